package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// OpenAIClient implements LLMClient against GPT-class models.
type OpenAIClient struct {
	baseClient
	client       *openai.Client
	defaultModel string
}

// NewOpenAIClient validates cfg and constructs an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = os.Getenv("LLM_MODEL")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	return &OpenAIClient{
		baseClient:   newBaseClient("openai", cfg.MaxRetries, cfg.RetryDelay),
		client:       openai.NewClient(cfg.APIKey),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Invoke(ctx context.Context, system string, history []orchtypes.Message, tools []orchtypes.ToolDescriptor) (orchtypes.AssistantResponse, error) {
	messages, err := convertMessagesOpenAI(history, system)
	if err != nil {
		return orchtypes.AssistantResponse{}, orcherrors.NewLLMError("invalid_request", "converting conversation history", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.defaultModel,
		Messages: messages,
		Tools:    convertToolsOpenAI(tools),
	}

	var resp openai.ChatCompletionResponse
	var classifier string
	err = c.retry(ctx, func(e error) bool {
		classifier = classifyError(e)
		return isRetryable(classifier)
	}, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return orchtypes.AssistantResponse{}, orcherrors.NewLLMError(classifier, "openai completion request failed", err)
	}

	return parseOpenAIResponse(resp)
}

func parseOpenAIResponse(resp openai.ChatCompletionResponse) (orchtypes.AssistantResponse, error) {
	out := orchtypes.AssistantResponse{}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	msg := resp.Choices[0].Message
	out.Text = msg.Content

	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return out, orcherrors.NewLLMError("invalid_response", "parsing tool call arguments", err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, orchtypes.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	return out, nil
}

func convertMessagesOpenAI(history []orchtypes.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(history)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range history {
		if msg.Role == "system" {
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "tool" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			argsJSON, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("marshaling tool call args: %w", err)
			}
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(argsJSON),
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result, nil
}

func convertToolsOpenAI(tools []orchtypes.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params any
		_ = json.Unmarshal(tool.InputSchema, &params)
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}
