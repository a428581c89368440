package llmclient

import "testing"

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{})
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNewAnthropicClientDefaultsModel(t *testing.T) {
	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}
	if c.defaultModel != "claude-sonnet-4-5-20250929" {
		t.Errorf("defaultModel = %q", c.defaultModel)
	}
}
