// Package orcherrors implements the orchestrator's closed error taxonomy.
// Every failure surfaced by internal/mcpclient, internal/llmclient,
// internal/snapshot, internal/serviceconfig, internal/checkpoint, and
// internal/mcporch is classified into one of a fixed set of Kind values so
// callers can branch on failure class without string matching.
package orcherrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of orchestrator error classes.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindMCPConnection  Kind = "mcp_connection"
	KindMCPProtocol    Kind = "mcp_protocol"
	KindMCPToolCall    Kind = "mcp_tool_call"
	KindLLM            Kind = "llm"
	KindSnapshotParse  Kind = "snapshot_parse"
	KindCancelled      Kind = "cancelled"
)

// OrchestratorError is the single error type produced across the
// orchestrator. ToolName and Classifier are populated only for the Kinds
// that carry them (MCPToolCall and LLM respectively); both are "" otherwise.
type OrchestratorError struct {
	Kind       Kind
	Message    string
	ToolName   string
	Classifier string
	Cause      error
}

func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: message, Cause: cause}
}

// NewConfigurationError reports a problem with service config registration
// or lookup: duplicate names, an unknown service, or a malformed config
// bundle.
func NewConfigurationError(message string, cause error) *OrchestratorError {
	return newErr(KindConfiguration, message, cause)
}

// NewMCPConnectionError reports a transport-level failure: the server
// process could not be spawned, the HTTP endpoint is unreachable, or the
// connection was lost mid-session. Connection errors are always fatal to
// the current run — there is no retry budget for them.
func NewMCPConnectionError(message string, cause error) *OrchestratorError {
	return newErr(KindMCPConnection, message, cause)
}

// NewMCPProtocolError reports a malformed or unexpected JSON-RPC exchange
// with an otherwise-connected MCP server: an initialize or tool result that
// does not parse, a failed tools/list, or an advertised input schema that
// does not compile.
func NewMCPProtocolError(message string, cause error) *OrchestratorError {
	return newErr(KindMCPProtocol, message, cause)
}

// NewMCPToolCallError reports a named tool's call_tool invocation failing
// or returning IsError=true. ToolName is always populated.
func NewMCPToolCallError(toolName, message string, cause error) *OrchestratorError {
	e := newErr(KindMCPToolCall, message, cause)
	e.ToolName = toolName
	return e
}

// NewLLMError reports an LLM client failure after its retry budget is
// exhausted. classifier is a short string such as "rate_limit", "auth",
// "timeout", or "server_error" describing why the call failed.
func NewLLMError(classifier, message string, cause error) *OrchestratorError {
	e := newErr(KindLLM, message, cause)
	e.Classifier = classifier
	return e
}

// NewSnapshotParseError reports that a snapshot could not be normalized.
// Normalize itself never returns this — it is reserved for callers that
// choose to treat a degraded parse (pure text fallback) as fatal.
func NewSnapshotParseError(message string, cause error) *OrchestratorError {
	return newErr(KindSnapshotParse, message, cause)
}

// NewCancelledError reports that the context a human prompt was waiting on
// ended — by caller cancellation or a deadline — before the human answered.
func NewCancelledError(message string, cause error) *OrchestratorError {
	return newErr(KindCancelled, message, cause)
}

// Is reports whether err is an *OrchestratorError of the given Kind.
func Is(err error, kind Kind) bool {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

// As extracts the *OrchestratorError from err, if any, mirroring the
// standard errors.As helper signature used throughout the codebase.
func As(err error) (*OrchestratorError, bool) {
	var oe *OrchestratorError
	ok := errors.As(err, &oe)
	return oe, ok
}
