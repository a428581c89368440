package llmclient

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

func TestNewOpenAIClientRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestConvertMessagesOpenAIIncludesSystemAndToolResult(t *testing.T) {
	history := []orchtypes.Message{
		{Role: "user", Content: "cancel my subscription"},
		{Role: "assistant", ToolCalls: []orchtypes.ToolCall{{ID: "call_1", Name: "click", Args: map[string]any{"ref": "e3"}}}},
		{Role: "tool", ToolCallID: "call_1", Content: "Page URL: https://svc.test/confirm"},
	}

	msgs, err := convertMessagesOpenAI(history, "you are an agent")
	if err != nil {
		t.Fatalf("convertMessagesOpenAI() error = %v", err)
	}

	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "you are an agent" {
		t.Fatalf("expected system message first, got %+v", msgs[0])
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 3 history)", len(msgs))
	}

	toolMsg := msgs[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message malformed: %+v", toolMsg)
	}

	assistantMsg := msgs[2]
	if len(assistantMsg.ToolCalls) != 1 || assistantMsg.ToolCalls[0].Function.Name != "click" {
		t.Errorf("assistant tool call malformed: %+v", assistantMsg)
	}
}

func TestParseOpenAIResponseSingleToolCall(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Content: "I'll click cancel.",
					ToolCalls: []openai.ToolCall{
						{ID: "call_1", Function: openai.FunctionCall{Name: "click", Arguments: `{"ref":"e3"}`}},
					},
				},
			},
		},
	}

	out, err := parseOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("parseOpenAIResponse() error = %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "click" {
		t.Fatalf("ToolCalls = %+v", out.ToolCalls)
	}
	if out.ToolCalls[0].Args["ref"] != "e3" {
		t.Errorf("ToolCalls[0].Args = %+v", out.ToolCalls[0].Args)
	}
}

func TestParseOpenAIResponseMultipleToolCallsPreservesOrder(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ToolCall{
						{ID: "call_1", Function: openai.FunctionCall{Name: "click", Arguments: `{"ref":"e3"}`}},
						{ID: "call_2", Function: openai.FunctionCall{Name: "click", Arguments: `{"ref":"e4"}`}},
					},
				},
			},
		},
	}

	out, err := parseOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("parseOpenAIResponse() error = %v", err)
	}
	if len(out.ToolCalls) != 2 {
		t.Fatalf("expected both tool calls to be handed back, got %d", len(out.ToolCalls))
	}
	if out.ToolCalls[0].ID != "call_1" || out.ToolCalls[1].ID != "call_2" {
		t.Errorf("ToolCalls out of order: %+v", out.ToolCalls)
	}
}

func TestConvertToolsOpenAI(t *testing.T) {
	tools := []orchtypes.ToolDescriptor{
		{Name: "navigate", Description: "go to a url", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	out := convertToolsOpenAI(tools)
	if len(out) != 1 || out[0].Function.Name != "navigate" {
		t.Fatalf("convertToolsOpenAI() = %+v", out)
	}
}
