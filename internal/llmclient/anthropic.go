package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicClient implements LLMClient against Claude models.
type AnthropicClient struct {
	baseClient
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient validates cfg and constructs an AnthropicClient.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = os.Getenv("LLM_MODEL")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5-20250929"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		baseClient:   newBaseClient("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Invoke(ctx context.Context, system string, history []orchtypes.Message, tools []orchtypes.ToolDescriptor) (orchtypes.AssistantResponse, error) {
	messages, err := convertMessagesAnthropic(history)
	if err != nil {
		return orchtypes.AssistantResponse{}, orcherrors.NewLLMError("invalid_request", "converting conversation history", err)
	}

	toolParams, err := convertToolsAnthropic(tools)
	if err != nil {
		return orchtypes.AssistantResponse{}, orcherrors.NewLLMError("invalid_request", "converting tool catalog", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.defaultModel),
		Messages:  messages,
		MaxTokens: 4096,
		Tools:     toolParams,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var message *anthropic.Message
	var classifier string
	err = c.retry(ctx, func(e error) bool {
		classifier = classifyError(e)
		return isRetryable(classifier)
	}, func() error {
		var callErr error
		message, callErr = c.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return orchtypes.AssistantResponse{}, orcherrors.NewLLMError(classifier, "anthropic completion request failed", err)
	}

	return parseAnthropicResponse(message)
}

func parseAnthropicResponse(message *anthropic.Message) (orchtypes.AssistantResponse, error) {
	resp := orchtypes.AssistantResponse{}

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return resp, orcherrors.NewLLMError("invalid_response", "parsing tool_use input", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, orchtypes.ToolCall{ID: block.ID, Name: block.Name, Args: input})
		}
	}

	return resp, nil
}

func convertMessagesAnthropic(history []orchtypes.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range history {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}

		for _, call := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertToolsAnthropic(tools []orchtypes.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}
