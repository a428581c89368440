// Package llmclient is the orchestrator's LLM client port: a single
// synchronous Invoke call that turns a system prompt, conversation history,
// and tool catalog into the model's next turn. Unlike the teacher's
// streaming LLMProvider, this port never needs to stream partial text to an
// end user — the task runner only ever acts on a turn once it is complete —
// so implementations collect a full response before returning it.
package llmclient

import (
	"context"

	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// LLMClient is implemented by each supported model backend.
type LLMClient interface {
	// Invoke sends one turn's worth of context to the model and returns its
	// response. Implementations must themselves enforce the retry budget
	// for transient failures and return an *orcherrors.OrchestratorError of
	// KindLLM once that budget is exhausted.
	Invoke(ctx context.Context, system string, history []orchtypes.Message, tools []orchtypes.ToolDescriptor) (orchtypes.AssistantResponse, error)

	// Name identifies the backend, e.g. "anthropic" or "openai".
	Name() string
}

// ModelInfo describes a selectable model's capabilities. No code in this
// module reads it; model names are passed to the backends unvalidated.
type ModelInfo struct {
	ID          string
	ContextSize int
}
