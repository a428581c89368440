package mcporch

import (
	"encoding/json"

	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// Virtual tool names. These never reach the MCP server — the runner
// intercepts them before dispatch.
const (
	ToolCompleteTask         = "complete_task"
	ToolRequestHumanApproval = "request_human_approval"
)

func virtualToolDescriptors() []orchtypes.ToolDescriptor {
	return []orchtypes.ToolDescriptor{
		{
			Name:        ToolCompleteTask,
			Description: "Call this when you believe the cancellation flow is finished, successfully or not. summary should state what happened and what the final page shows.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"summary": {"type": "string", "description": "What was done and the resulting page state"},
					"succeeded": {"type": "boolean", "description": "Whether you believe the task succeeded"}
				},
				"required": ["summary", "succeeded"]
			}`),
			Virtual: true,
		},
		{
			Name:        ToolRequestHumanApproval,
			Description: "Call this to pause and ask a human to confirm before taking an action you believe is risky or irreversible, even if not otherwise required.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"reason": {"type": "string", "description": "Why you want human confirmation before proceeding"}
				},
				"required": ["reason"]
			}`),
			Virtual: true,
		},
	}
}

func completeTaskArgs(call orchtypes.ToolCall) (summary string, claimedSuccess bool) {
	if v, ok := call.Args["summary"].(string); ok {
		summary = v
	}
	if v, ok := call.Args["succeeded"].(bool); ok {
		claimedSuccess = v
	}
	return summary, claimedSuccess
}

func approvalRequestReason(call orchtypes.ToolCall) string {
	if v, ok := call.Args["reason"].(string); ok {
		return v
	}
	return ""
}
