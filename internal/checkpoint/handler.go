// Package checkpoint implements the orchestrator's two human-in-the-loop
// gates: authentication-edge-case interception (pause and wait for the
// human to clear a login wall or MFA prompt) and checkpoint approval
// (pause and get explicit sign-off before an irreversible tool call). Both
// gates are driven entirely by the predicates carried on a
// orchtypes.ServiceConfig — this package never branches on a service name.
package checkpoint

import (
	"context"
	"log/slog"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// Handler evaluates a service's auth/checkpoint predicates against each
// turn and, when one fires, blocks on the configured UserPrompt.
type Handler struct {
	prompt UserPrompt
	logger *slog.Logger
}

// NewHandler builds a Handler around prompt.
func NewHandler(prompt UserPrompt, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{prompt: prompt, logger: logger.With("component", "checkpoint")}
}

// DetectAuthEdgeCase runs every detector in order and returns the first
// non-empty kind reported, or "" if the snapshot shows no authentication
// interruption. A detector that panics is treated as reporting no match,
// since detectors are user-authored predicates and must never bring down a
// run.
func DetectAuthEdgeCase(detectors []orchtypes.AuthEdgeCaseDetector, snap orchtypes.NormalizedSnapshot) (kind string) {
	for _, detect := range detectors {
		if result := safeDetect(detect, snap); result != "" {
			return result
		}
	}
	return ""
}

func safeDetect(detect orchtypes.AuthEdgeCaseDetector, snap orchtypes.NormalizedSnapshot) (kind string) {
	defer func() {
		if recover() != nil {
			kind = ""
		}
	}()
	return detect(snap)
}

// WaitForAuth blocks on the UserPrompt until the human signals the
// interruption of the given kind has been cleared, or reports that the task
// should be abandoned. A cancelled ctx surfaces as a CancelledError.
func (h *Handler) WaitForAuth(ctx context.Context, kind string) (resumed bool, err error) {
	h.logger.Info("authentication edge case detected, waiting for human", "kind", kind)

	resumed, err = h.prompt.PromptAuthWait(ctx, kind)
	if err != nil {
		if ctx.Err() != nil {
			return false, orcherrors.NewCancelledError("waiting for auth resolution", err)
		}
		return false, err
	}

	h.logger.Info("authentication wait resolved", "kind", kind, "resumed", resumed)
	return resumed, nil
}

// ShouldCheckpoint reports whether any checkpoint predicate fires for the
// proposed call against the current snapshot. A predicate that panics is
// treated as not matching, for the same reason as DetectAuthEdgeCase.
func ShouldCheckpoint(conditions []orchtypes.CheckpointPredicate, call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) bool {
	for _, cond := range conditions {
		if safeCheckpoint(cond, call, snap) {
			return true
		}
	}
	return false
}

func safeCheckpoint(cond orchtypes.CheckpointPredicate, call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return cond(call, snap)
}

// RequestApproval describes the proposed call to the human and blocks until
// they approve or deny it.
func (h *Handler) RequestApproval(ctx context.Context, call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) (approved bool, err error) {
	h.logger.Info("checkpoint reached, requesting human approval", "tool", call.Name)

	approved, err = h.prompt.PromptApproval(ctx, call.Name, call.Args, snap.Title, snap.ScreenshotPath)
	if err != nil {
		if ctx.Err() != nil {
			return false, orcherrors.NewCancelledError("waiting for checkpoint approval", err)
		}
		return false, err
	}

	h.logger.Info("checkpoint decision received", "tool", call.Name, "approved", approved)
	return approved, nil
}
