package llmclient

import "strings"

// classifyError maps a raw SDK error into the short classifier string the
// orchestrator's LLMError carries, following the same string-pattern
// approach the teacher's providers use to sort failures into a closed set
// of reasons without depending on each SDK's own error types.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return "auth"
	case strings.Contains(msg, "billing") || strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "quota"):
		return "billing"
	case strings.Contains(msg, "content_filter") || strings.Contains(msg, "content filter"):
		return "content_filter"
	case strings.Contains(msg, "model_not_found") || strings.Contains(msg, "does not exist"):
		return "model_unavailable"
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "server error"):
		return "server_error"
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "network"
	default:
		return "unknown"
	}
}

// isRetryable reports whether a classifier string represents a transient
// condition worth retrying. auth, billing, content_filter, and
// model_unavailable are permanent for the duration of a run.
func isRetryable(classifier string) bool {
	switch classifier {
	case "rate_limit", "timeout", "server_error", "network":
		return true
	default:
		return false
	}
}
