package mcporch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subterminator/mcp-orchestrator/internal/checkpoint"
	"github.com/subterminator/mcp-orchestrator/internal/llmclient"
	"github.com/subterminator/mcp-orchestrator/internal/mcpclient"
	"github.com/subterminator/mcp-orchestrator/internal/orchobserve"
	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/internal/serviceconfig"
	"github.com/subterminator/mcp-orchestrator/internal/snapshot"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

const baseSystemPrompt = `You are operating a web browser on behalf of a user to cancel a subscription.
You act by calling exactly one tool per turn and observing its result before acting again.
Call complete_task as soon as you believe the flow has reached a terminal state, success or failure.
Call request_human_approval before any action you are unsure about, even if not otherwise required.`

// MCPPort is the subset of mcpclient.Client the task runner depends on,
// named as its own interface so tests can substitute a fake server without
// spawning a real subprocess.
type MCPPort interface {
	Tools() []mcpclient.MCPTool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Runner drives one service's cancellation flow to completion.
type Runner struct {
	config  RunnerConfig
	mcp     MCPPort
	llm     llmclient.LLMClient
	checks  *checkpoint.Handler
	configs *serviceconfig.Registry
	metrics *orchobserve.Metrics
	logger  *slog.Logger
}

// NewRunner wires the task runner's dependencies together.
func NewRunner(cfg RunnerConfig, mcp MCPPort, llm llmclient.LLMClient, checks *checkpoint.Handler, configs *serviceconfig.Registry, metrics *orchobserve.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:  sanitizeRunnerConfig(cfg),
		mcp:     mcp,
		llm:     llm,
		checks:  checks,
		configs: configs,
		metrics: metrics,
		logger:  logger.With("component", "task_runner"),
	}
}

// turnState is the loop's working memory, mirroring the teacher's
// LoopState: a phase-free shape for this orchestrator, since every turn
// performs the same fixed sequence of steps rather than branching between
// named phases.
type turnState struct {
	history   []orchtypes.Message
	snapshot  orchtypes.NormalizedSnapshot
	turn      int
	noActions int
	logger    *slog.Logger
}

// Run drives serviceName's cancellation flow to a terminal TaskResult. The
// returned error is non-nil only for a setup failure that precedes any turn
// (an unknown service) — every other outcome, including a failed initial
// navigation or a mid-run MCP or LLM failure, is reported as a
// populated TaskResult with a nil error, since it is a well-formed terminal
// state of the run rather than a failure to invoke Run itself.
func (r *Runner) Run(ctx context.Context, serviceName string) (orchtypes.TaskResult, error) {
	cfg, err := r.configs.Get(serviceName)
	if err != nil {
		return orchtypes.TaskResult{}, err
	}

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID, "service", serviceName)

	start := time.Now()
	var closeOnce sync.Once
	closeMCP := func() {
		closeOnce.Do(func() {
			if err := r.mcp.Close(); err != nil {
				logger.Warn("closing MCP client", "error", err)
			}
		})
	}
	defer closeMCP()

	cat := buildCatalog(r.mcp.Tools(), r.config.NavigationTools)

	state := &turnState{
		history: []orchtypes.Message{{Role: "user", Content: cfg.GoalTemplate}},
		logger:  logger,
	}

	if _, err := r.mcp.CallTool(ctx, "browser_navigate", map[string]any{"url": cfg.InitialURL}); err != nil {
		return r.finish(serviceName, orchtypes.TaskResult{
			Reason: orchtypes.ReasonMCPError,
			Turns:  0,
			Error:  err.Error(),
		}, start, state.turn, logger), nil
	}

	// The navigation tool's own result isn't trusted as the snapshot: an
	// explicit browser_snapshot call is what establishes the first current
	// snapshot, the same way a navigation-class tool call mid-run is always
	// followed by one. Its text is attached to the first user message so the
	// LLM's first turn sees the starting page.
	snapText, err := r.mcp.CallTool(ctx, "browser_snapshot", nil)
	if err != nil {
		return r.finish(serviceName, orchtypes.TaskResult{
			Reason: orchtypes.ReasonMCPError,
			Turns:  0,
			Error:  err.Error(),
		}, start, state.turn, logger), nil
	}
	state.snapshot = snapshot.Normalize(snapText)
	state.history[0].Content += "\n\nCurrent page:\n" + snapText

	for state.turn < *r.config.MaxTurns {
		if ctx.Err() != nil {
			return r.finish(serviceName, orchtypes.TaskResult{
				Reason:   orchtypes.ReasonCancelled,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    ctx.Err().Error(),
			}, start, state.turn, logger), nil
		}

		result, terminal := r.step(ctx, cfg, cat, state)
		if terminal {
			return r.finish(serviceName, result, start, state.turn, logger), nil
		}
	}

	return r.finish(serviceName, orchtypes.TaskResult{
		Reason:   orchtypes.ReasonMaxTurnsExceeded,
		Turns:    state.turn,
		FinalURL: state.snapshot.URL,
		Error:    "exceeded maximum turn budget without reaching completion",
	}, start, state.turn, logger), nil
}

// step executes exactly one turn: one LLM invocation, and, if it proposes
// tool calls, exactly one dispatch (virtual or real) for the first of them.
// Any further tool calls the model proposed in the same turn are replaced
// with synthesized "skipped" tool messages, per the single-tool-per-turn
// policy — the port hands back every call it saw, but only the runner
// decides how many of them actually execute. It returns a terminal
// TaskResult and true when the run has ended, or a zero TaskResult and
// false to continue looping. The turn counter is incremented here,
// unconditionally, since invoking the LLM is what consumes a turn —
// including the turn that ultimately produces a terminal result.
func (r *Runner) step(ctx context.Context, cfg *orchtypes.ServiceConfig, cat *catalog, state *turnState) (orchtypes.TaskResult, bool) {
	resp, err := r.llm.Invoke(ctx, systemPromptFor(cfg), state.history, cat.descriptorsSlice())
	state.turn++
	if err != nil {
		classifier := ""
		if oe, ok := orcherrors.As(err); ok {
			classifier = oe.Classifier
		}
		return orchtypes.TaskResult{
			Reason:   orchtypes.ReasonLLMError,
			Turns:    state.turn,
			FinalURL: state.snapshot.URL,
			Error:    classifier + ": " + err.Error(),
		}, true
	}

	if len(resp.ToolCalls) == 0 {
		state.noActions++
		state.history = append(state.history, orchtypes.Message{Role: "assistant", Content: resp.Text})
		if state.noActions >= r.config.NoActionCap {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonNoActionExceeded,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    "model produced no tool call for too many consecutive turns",
			}, true
		}
		state.history = append(state.history, orchtypes.Message{
			Role:    "user",
			Content: "You must either call a tool to continue the flow or call complete_task.",
		})
		return orchtypes.TaskResult{}, false
	}

	state.noActions = 0
	call := resp.ToolCalls[0]
	state.history = append(state.history, orchtypes.Message{Role: "assistant", ToolCalls: resp.ToolCalls})

	var result orchtypes.TaskResult
	var terminal bool
	switch call.Name {
	case ToolCompleteTask:
		result, terminal = r.handleCompleteTask(cfg, call, state)
	case ToolRequestHumanApproval:
		result, terminal = r.handleApprovalRequest(ctx, call, state)
	default:
		result, terminal = r.handleToolCall(ctx, cfg, cat, call, state)
	}

	for _, skipped := range resp.ToolCalls[1:] {
		state.history = append(state.history, orchtypes.Message{
			Role:       "tool",
			ToolCallID: skipped.ID,
			Content:    "skipped: single-tool-per-turn policy — only the first tool call in a turn is executed",
		})
	}

	return result, terminal
}

// handleCompleteTask never trusts the model's own claim: verifyCompletion
// checks the current snapshot against the service's indicators. An
// unverified claim is not terminal — a mismatch tool message is appended
// and the loop continues, which is the only recovery path for a premature
// complete_task call.
func (r *Runner) handleCompleteTask(cfg *orchtypes.ServiceConfig, call orchtypes.ToolCall, state *turnState) (orchtypes.TaskResult, bool) {
	_, claimedSuccess := completeTaskArgs(call)
	verified, success, reason, errMsg := verifyCompletion(cfg, state.snapshot)
	state.logger.Info("task claimed complete", "claimed_success", claimedSuccess, "verified", verified, "success", success)

	if !verified {
		state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: errMsg})
		return orchtypes.TaskResult{}, false
	}

	return orchtypes.TaskResult{
		Success:  success,
		Verified: verified,
		Reason:   reason,
		Turns:    state.turn,
		FinalURL: state.snapshot.URL,
		Error:    errMsg,
	}, true
}

// handleApprovalRequest terminates the run on rejection: a declined or
// failed approval request ends with human_rejected, matching the same
// failure semantics as a declined checkpoint approval. Only an explicit
// approval lets the loop continue, so the model can follow up with the
// real tool call it was asking permission for.
func (r *Runner) handleApprovalRequest(ctx context.Context, call orchtypes.ToolCall, state *turnState) (orchtypes.TaskResult, bool) {
	reason := approvalRequestReason(call)
	approvalCtx, cancelApproval := context.WithTimeout(ctx, r.config.ApprovalTimeout)
	approved, err := r.checks.RequestApproval(approvalCtx, orchtypes.ToolCall{Name: "requested action: " + reason}, state.snapshot)
	cancelApproval()
	r.observeApproval(approved)

	if err != nil {
		return orchtypes.TaskResult{
			Reason:   orchtypes.ReasonHumanRejected,
			Turns:    state.turn,
			FinalURL: state.snapshot.URL,
			Error:    "error requesting approval: " + err.Error(),
		}, true
	}
	if !approved {
		return orchtypes.TaskResult{
			Reason:   orchtypes.ReasonHumanRejected,
			Turns:    state.turn,
			FinalURL: state.snapshot.URL,
			Error:    "human denied approval for: " + reason,
		}, true
	}

	state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: "approved"})
	return orchtypes.TaskResult{}, false
}

func (r *Runner) handleToolCall(ctx context.Context, cfg *orchtypes.ServiceConfig, cat *catalog, call orchtypes.ToolCall, state *turnState) (orchtypes.TaskResult, bool) {
	if err := cat.validateArgs(call); err != nil {
		r.observeToolCall(call.Name, "invalid_args")
		state.history = append(state.history, orchtypes.Message{
			Role: "tool", ToolCallID: call.ID,
			Content: "rejected: arguments do not match the tool's schema: " + err.Error(),
		})
		return orchtypes.TaskResult{}, false
	}

	// The auth-edge-case gate is evaluated here, against the snapshot the
	// LLM actually saw when it proposed call, not against a stale snapshot
	// checked before the LLM ever ran. If it fires, call is never dispatched
	// to the MCP server at all: instead the run waits on the human, then
	// re-attaches a freshly captured snapshot to history under call's own
	// ID, so every assistant tool_calls message still gets exactly one
	// corresponding tool message. The loop naturally re-invokes the LLM
	// next, now showing it the post-auth page.
	if kind := checkpoint.DetectAuthEdgeCase(cfg.AuthEdgeCaseDetectors, state.snapshot); kind != "" {
		r.observeAuthWait(kind)
		authCtx, cancelAuth := context.WithTimeout(ctx, r.config.AuthWaitTimeout)
		resumed, err := r.checks.WaitForAuth(authCtx, kind)
		cancelAuth()
		if err != nil {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonHumanRejected,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    err.Error(),
			}, true
		}
		if !resumed {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonHumanRejected,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    "human abandoned the task at an authentication step",
			}, true
		}

		refreshed, err := r.mcp.CallTool(ctx, "browser_snapshot", nil)
		if err != nil {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonMCPError,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    err.Error(),
			}, true
		}
		state.snapshot = snapshot.Normalize(refreshed)
		state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: refreshed})
		return orchtypes.TaskResult{}, false
	}

	if checkpoint.ShouldCheckpoint(cfg.CheckpointConditions, call, state.snapshot) {
		approvalCtx, cancelApproval := context.WithTimeout(ctx, r.config.ApprovalTimeout)
		approved, err := r.checks.RequestApproval(approvalCtx, call, state.snapshot)
		cancelApproval()
		r.observeApproval(approved)
		if err != nil {
			// A prompt that times out counts as a rejection; only a cancelled
			// run context reports the run as cancelled.
			reason := orchtypes.ReasonHumanRejected
			if ctx.Err() != nil {
				reason = orchtypes.ReasonCancelled
			}
			return orchtypes.TaskResult{
				Reason:   reason,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    err.Error(),
			}, true
		}
		if !approved {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonHumanRejected,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    "human denied approval for " + call.Name,
			}, true
		}
	}

	text, err := r.mcp.CallTool(ctx, call.Name, call.Args)
	if err != nil {
		if orcherrors.Is(err, orcherrors.KindMCPConnection) {
			r.observeToolCall(call.Name, "connection_lost")
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonMCPError,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    err.Error(),
			}, true
		}
		// MCPToolCallError and anything else: non-fatal, feed the failure
		// back so the model can adjust its approach.
		r.observeToolCall(call.Name, "tool_error")
		state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: "error: " + err.Error()})
		return orchtypes.TaskResult{}, false
	}

	r.observeToolCall(call.Name, "ok")

	descriptor, _ := cat.lookup(call.Name)
	if descriptor.Navigation {
		// Navigation-class tools invalidate every element reference from the
		// prior snapshot, so an explicit browser_snapshot call is the only
		// way to get refs the model can safely act on next.
		refreshed, err := r.mcp.CallTool(ctx, "browser_snapshot", nil)
		if err != nil {
			return orchtypes.TaskResult{
				Reason:   orchtypes.ReasonMCPError,
				Turns:    state.turn,
				FinalURL: state.snapshot.URL,
				Error:    err.Error(),
			}, true
		}
		state.snapshot = snapshot.Normalize(refreshed)
		state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: refreshed})
		return orchtypes.TaskResult{}, false
	}

	// Non-navigation tools don't invalidate refs: the previous snapshot
	// stays current, and the tool's own result text (not a re-normalized
	// snapshot) satisfies the tool message.
	state.history = append(state.history, orchtypes.Message{Role: "tool", ToolCallID: call.ID, Content: text})
	return orchtypes.TaskResult{}, false
}

func (r *Runner) finish(serviceName string, result orchtypes.TaskResult, start time.Time, turns int, logger *slog.Logger) orchtypes.TaskResult {
	result.Turns = turns
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(serviceName, string(result.Reason)).Inc()
		r.metrics.RunDuration.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())
		r.metrics.TurnsPerRun.Observe(float64(turns))
	}
	logger.Info("run finished", "reason", result.Reason, "success", result.Success, "turns", turns)
	return result
}

func (r *Runner) observeToolCall(tool, outcome string) {
	if r.metrics != nil {
		r.metrics.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	}
}

func (r *Runner) observeApproval(approved bool) {
	if r.metrics == nil {
		return
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	r.metrics.ApprovalsTotal.WithLabelValues(decision).Inc()
}

func (r *Runner) observeAuthWait(kind string) {
	if r.metrics != nil {
		r.metrics.AuthWaitsTotal.WithLabelValues(kind).Inc()
	}
}

func systemPromptFor(cfg *orchtypes.ServiceConfig) string {
	system := baseSystemPrompt
	if cfg.SystemPromptAddition != "" {
		system += "\n\n" + cfg.SystemPromptAddition
	}
	return system
}
