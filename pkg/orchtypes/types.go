// Package orchtypes defines the shared value types passed between the
// orchestrator's components: tool calls, normalized page snapshots, task
// outcomes, and service configuration. Nothing in this package depends on
// any other orchestrator package.
package orchtypes

import "encoding/json"

// ToolCall is an LLM's request to execute a tool, either a real MCP tool or
// one of the two virtual tools (complete_task, request_human_approval).
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// NormalizedSnapshot is the stable, parsed view of an opaque accessibility
// tree dump returned by an MCP browser tool. Normalize is total: it never
// raises, and an unparseable blob degrades to Content holding the raw text.
type NormalizedSnapshot struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	ScreenshotPath string `json:"screenshot_path"`
}

// TaskReason classifies why a run ended, independent of whether it
// succeeded. It is a closed enum; no other string values are produced.
type TaskReason string

const (
	ReasonCompleted          TaskReason = "completed"
	ReasonHumanRejected      TaskReason = "human_rejected"
	ReasonMaxTurnsExceeded   TaskReason = "max_turns_exceeded"
	ReasonNoActionExceeded   TaskReason = "no_action_exceeded"
	ReasonLLMError           TaskReason = "llm_error"
	ReasonMCPError           TaskReason = "mcp_error"
	ReasonVerificationFailed TaskReason = "verification_failed"
	ReasonCancelled          TaskReason = "cancelled"
)

// TaskResult is the terminal outcome of a Run. Success is true only when
// Reason is ReasonCompleted AND the completion claim was independently
// verified against the final snapshot. Error is non-empty whenever Success
// is false and the reason is not a clean human rejection.
type TaskResult struct {
	Success  bool       `json:"success"`
	Verified bool       `json:"verified"`
	Reason   TaskReason `json:"reason"`
	Turns    int        `json:"turns"`
	FinalURL string     `json:"final_url,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// SnapshotPredicate inspects a normalized snapshot and reports a boolean
// fact about it (e.g. "does this page show a cancellation-confirmed
// banner"). Predicates must be pure and must not panic; a predicate that
// panics is treated by callers as returning false.
type SnapshotPredicate func(NormalizedSnapshot) bool

// CheckpointPredicate decides whether a proposed tool call, given the page
// state it would act on, must be gated behind human approval before
// execution.
type CheckpointPredicate func(ToolCall, NormalizedSnapshot) bool

// AuthEdgeCaseDetector inspects a snapshot for a login wall, MFA prompt, or
// other authentication interruption. It returns a short human-readable kind
// string (e.g. "mfa_prompt") when one is detected, or "" when the page shows
// no authentication edge case.
type AuthEdgeCaseDetector func(NormalizedSnapshot) string

// ServiceConfig steers the orchestrator toward a single subscription
// service's cancellation flow entirely through data: a starting URL, a goal
// phrased for the LLM, and the three predicate families above. The task
// runner never branches on the service name itself.
type ServiceConfig struct {
	Name                  string
	InitialURL            string
	GoalTemplate          string
	SystemPromptAddition  string
	CheckpointConditions  []CheckpointPredicate
	SuccessIndicators     []SnapshotPredicate
	FailureIndicators     []SnapshotPredicate
	AuthEdgeCaseDetectors []AuthEdgeCaseDetector
}

// ToolDescriptor is a tool entry in the catalog presented to the LLM: either
// a real MCP tool surfaced verbatim, or one of the two virtual tools the
// runner handles internally. Navigation marks tools whose execution
// invalidates previously issued accessibility-tree element references.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Navigation  bool            `json:"-"`
	Virtual     bool            `json:"-"`
}

// Message is one entry in the conversation history exchanged with the LLM
// client. Role is one of "system", "user", "assistant", or "tool". A tool
// message's ToolCallID correlates it to the ToolCall.ID it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// AssistantResponse is a single LLM turn: free text, zero or more tool
// calls, or both (a model may narrate before acting). The port hands back
// every tool call the model proposed, in order; the single-tool-per-turn
// policy (only the first is executed, the rest are synthesized "skipped"
// tool messages) is enforced by the task runner, not by the port, since two
// different providers disagree on whether multiple tool calls in one
// response are even possible.
type AssistantResponse struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
