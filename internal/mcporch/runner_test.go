package mcporch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/subterminator/mcp-orchestrator/internal/checkpoint"
	"github.com/subterminator/mcp-orchestrator/internal/mcpclient"
	"github.com/subterminator/mcp-orchestrator/internal/orchobserve"
	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/internal/serviceconfig"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// fakeLLM replays a fixed script of turns, one per call to Invoke, so a test
// can script a whole run's worth of model behavior without a real backend.
type fakeLLM struct {
	turns []orchtypes.AssistantResponse
	errs  []error
	calls int
}

func (f *fakeLLM) Invoke(ctx context.Context, system string, history []orchtypes.Message, tools []orchtypes.ToolDescriptor) (orchtypes.AssistantResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return orchtypes.AssistantResponse{}, f.errs[i]
	}
	if i >= len(f.turns) {
		return orchtypes.AssistantResponse{}, errors.New("fakeLLM: ran out of scripted turns")
	}
	return f.turns[i], nil
}

func (f *fakeLLM) Name() string { return "fake" }

// fakeMCP answers CallTool from a fixed queue of page texts and records
// every call made, standing in for a real Playwright MCP server. Every call
// — browser_navigate, browser_snapshot, or a real action tool — pops the
// next queued page in order; tests line the queue up with the exact call
// sequence the runner is expected to make.
type fakeMCP struct {
	pages   []string
	calls   []orchtypes.ToolCall
	closed  bool
	callErr error
}

func (f *fakeMCP) Tools() []mcpclient.MCPTool {
	return []mcpclient.MCPTool{
		{Name: "browser_click", Description: "click an element", InputSchema: json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"}},"required":["ref"]}`)},
		{Name: "browser_navigate", Description: "go to a URL"},
	}
}

func (f *fakeMCP) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, orchtypes.ToolCall{Name: name, Args: args})
	if f.callErr != nil {
		return "", f.callErr
	}
	if len(f.pages) == 0 {
		return "Page URL: https://example.test/\nPage Title: Example\n", nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeMCP) Close() error {
	f.closed = true
	return nil
}

func testRegistry(t *testing.T, cfg *orchtypes.ServiceConfig) *serviceconfig.Registry {
	t.Helper()
	reg := serviceconfig.NewRegistry()
	if err := reg.Register(cfg); err != nil {
		t.Fatalf("registering test service config: %v", err)
	}
	return reg
}

func containsPredicate(substr string) orchtypes.SnapshotPredicate {
	return func(snap orchtypes.NormalizedSnapshot) bool {
		return len(snap.Content) > 0 && contains(snap.Content, substr) || contains(snap.Title, substr)
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func baseTestConfig() *orchtypes.ServiceConfig {
	return &orchtypes.ServiceConfig{
		Name:         "testsvc",
		InitialURL:   "https://example.test/account",
		GoalTemplate: "cancel the subscription",
		SuccessIndicators: []orchtypes.SnapshotPredicate{
			containsPredicate("Cancellation confirmed"),
		},
		FailureIndicators: []orchtypes.SnapshotPredicate{
			containsPredicate("Cancellation failed"),
		},
	}
}

func newTestRunner(t *testing.T, cfg *orchtypes.ServiceConfig, llm *fakeLLM, mcp *fakeMCP, prompt *checkpoint.ScriptedPrompt) *Runner {
	t.Helper()
	reg := testRegistry(t, cfg)
	handler := checkpoint.NewHandler(prompt, nil)
	metrics := orchobserve.NewMetrics(prometheus.NewRegistry())
	return NewRunner(DefaultRunnerConfig(), mcp, llm, handler, reg, metrics, nil)
}

func TestRunCleanSuccess(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "2", Name: ToolCompleteTask, Args: map[string]any{"summary": "done", "succeeded": true}}}},
		},
	}
	// Call order: navigate (init), snapshot (init), click, snapshot (post-click,
	// since browser_click is navigation-class). Only the last page matters.
	mcp := &fakeMCP{pages: []string{"", "", "", "Page URL: https://example.test/done\nPage Title: Cancellation confirmed\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success || !result.Verified || result.Reason != orchtypes.ReasonCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !mcp.closed {
		t.Fatal("expected MCP client to be closed")
	}
}

// TestRunCompletionClaimNotVerified checks that an unverified complete_task
// claim does not end the run: a mismatch tool message is appended and the
// LLM is invoked again, consistent with "the model cannot self-declare
// success." The run only ends once the model takes a further action that
// lands on a page an independent indicator actually matches.
func TestRunCompletionClaimNotVerified(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: ToolCompleteTask, Args: map[string]any{"summary": "I think it's done", "succeeded": true}}}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "2", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "3", Name: ToolCompleteTask, Args: map[string]any{"summary": "now it's done", "succeeded": true}}}},
		},
	}
	mcp := &fakeMCP{pages: []string{"", "", "", "Page URL: https://example.test/done\nPage Title: Cancellation confirmed\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if llm.calls != 3 {
		t.Fatalf("expected the run to continue past the unverified claim and invoke the LLM 3 times, got %d", llm.calls)
	}
	if !result.Success || !result.Verified || result.Reason != orchtypes.ReasonCompleted {
		t.Fatalf("expected the run to eventually complete once verified, got %+v", result)
	}
}

func TestRunCheckpointDenied(t *testing.T) {
	cfg := baseTestConfig()
	cfg.CheckpointConditions = []orchtypes.CheckpointPredicate{
		func(call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) bool {
			return call.Name == "browser_click"
		},
	}
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
		},
	}
	mcp := &fakeMCP{}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{ApprovalAnswers: []bool{false}})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonHumanRejected {
		t.Fatalf("expected human_rejected, got %s", result.Reason)
	}
	if len(mcp.calls) != 2 { // navigate (initial) + snapshot (initial); the gated click never dispatches
		t.Fatalf("expected the gated tool call never to reach the MCP server, got %d calls", len(mcp.calls))
	}
}

func TestRunCheckpointApprovedProceeds(t *testing.T) {
	cfg := baseTestConfig()
	cfg.CheckpointConditions = []orchtypes.CheckpointPredicate{
		func(call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) bool {
			return call.Name == "browser_click"
		},
	}
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "2", Name: ToolCompleteTask, Args: map[string]any{"summary": "done", "succeeded": true}}}},
		},
	}
	mcp := &fakeMCP{pages: []string{"", "", "", "Page URL: https://example.test/done\nPage Title: Cancellation confirmed\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{ApprovalAnswers: []bool{true}})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	// navigate (initial) + snapshot (initial) + click + snapshot (post-click)
	if len(mcp.calls) != 4 {
		t.Fatalf("expected the gated click and its follow-up snapshot to reach the MCP server once approved, got %d calls", len(mcp.calls))
	}
}

// TestRunAuthEdgeCaseResumed checks the relocated auth gate: the LLM is
// invoked and shown the interrupted page, proposes a real tool call, and
// only then is the call intercepted rather than dispatched — with the
// refreshed post-auth snapshot re-attached under the original tool_call's
// ID so history stays well-formed.
func TestRunAuthEdgeCaseResumed(t *testing.T) {
	cfg := baseTestConfig()
	cfg.AuthEdgeCaseDetectors = []orchtypes.AuthEdgeCaseDetector{
		func(snap orchtypes.NormalizedSnapshot) string {
			if contains(snap.Title, "Sign in") {
				return "mfa_prompt"
			}
			return ""
		},
	}
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "2", Name: ToolCompleteTask, Args: map[string]any{"summary": "done", "succeeded": true}}}},
		},
	}
	mcp := &fakeMCP{pages: []string{
		"",                                               // navigate (init), discarded
		"Page URL: https://example.test/login\nPage Title: Sign in\n", // snapshot (init): lands on the login wall
		"Page URL: https://example.test/account\nPage Title: Cancellation failed\n", // snapshot issued after the human resumes
	}}
	prompt := &checkpoint.ScriptedPrompt{AuthAnswers: []bool{true}}
	runner := newTestRunner(t, cfg, llm, mcp, prompt)

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(prompt.AuthCalls()) != 1 || prompt.AuthCalls()[0] != "mfa_prompt" {
		t.Fatalf("expected exactly one auth wait for mfa_prompt, got %v", prompt.AuthCalls())
	}
	if llm.calls != 2 {
		t.Fatalf("expected the LLM to be invoked before and after the auth interception, got %d calls", llm.calls)
	}
	// The click the LLM proposed was intercepted, never dispatched: only
	// navigate + snapshot(init) + snapshot(post-auth) reach the MCP server.
	if len(mcp.calls) != 3 {
		t.Fatalf("expected the intercepted click never to reach the MCP server, got %d calls", len(mcp.calls))
	}
	if result.Reason != orchtypes.ReasonVerificationFailed || !result.Verified || result.Success {
		t.Fatalf("expected a verified failure on the post-auth page, got %+v", result)
	}
}

// TestRunAuthEdgeCaseAbandoned checks that the LLM is invoked and proposes a
// real tool call before the auth gate can intercept it — the previous
// top-of-loop placement could fire before the LLM ever saw the page.
func TestRunAuthEdgeCaseAbandoned(t *testing.T) {
	cfg := baseTestConfig()
	cfg.AuthEdgeCaseDetectors = []orchtypes.AuthEdgeCaseDetector{
		func(snap orchtypes.NormalizedSnapshot) string {
			if contains(snap.Title, "Sign in") {
				return "mfa_prompt"
			}
			return ""
		},
	}
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
		},
	}
	mcp := &fakeMCP{pages: []string{"", "Page URL: https://example.test/login\nPage Title: Sign in\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{AuthAnswers: []bool{false}})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonHumanRejected {
		t.Fatalf("expected human_rejected when the human abandons at auth, got %s", result.Reason)
	}
	if llm.calls != 1 {
		t.Fatalf("expected the LLM to be invoked once, proposing the click the gate then intercepts, got %d calls", llm.calls)
	}
	if len(mcp.calls) != 2 { // navigate (init) + snapshot (init); the intercepted click never dispatches
		t.Fatalf("expected the intercepted click never to reach the MCP server, got %d calls", len(mcp.calls))
	}
}

func TestRunMaxTurnsExceeded(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{}
	for i := 0; i < 100; i++ {
		llm.turns = append(llm.turns, orchtypes.AssistantResponse{
			ToolCalls: []orchtypes.ToolCall{{ID: "x", Name: "browser_click", Args: map[string]any{"ref": "e1"}}},
		})
	}
	mcp := &fakeMCP{}
	runnerCfg := DefaultRunnerConfig()
	maxTurns := 3
	runnerCfg.MaxTurns = &maxTurns
	reg := testRegistry(t, cfg)
	handler := checkpoint.NewHandler(&checkpoint.ScriptedPrompt{}, nil)
	metrics := orchobserve.NewMetrics(prometheus.NewRegistry())
	runner := NewRunner(runnerCfg, mcp, llm, handler, reg, metrics, nil)

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonMaxTurnsExceeded {
		t.Fatalf("expected max_turns_exceeded, got %s", result.Reason)
	}
	if result.Turns != 3 {
		t.Fatalf("expected exactly MaxTurns turns consumed, got %d", result.Turns)
	}
}

// TestRunMaxTurnsZeroTerminatesImmediately checks the max_turns=0 boundary:
// an explicit zero-turn budget must be honored as-is, not silently
// substituted with the default, and must never invoke the LLM.
func TestRunMaxTurnsZeroTerminatesImmediately(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{}
	mcp := &fakeMCP{}
	runnerCfg := DefaultRunnerConfig()
	zero := 0
	runnerCfg.MaxTurns = &zero
	reg := testRegistry(t, cfg)
	handler := checkpoint.NewHandler(&checkpoint.ScriptedPrompt{}, nil)
	metrics := orchobserve.NewMetrics(prometheus.NewRegistry())
	runner := NewRunner(runnerCfg, mcp, llm, handler, reg, metrics, nil)

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonMaxTurnsExceeded {
		t.Fatalf("expected max_turns_exceeded, got %s", result.Reason)
	}
	if result.Turns != 0 {
		t.Fatalf("expected zero turns consumed, got %d", result.Turns)
	}
	if llm.calls != 0 {
		t.Fatalf("expected no LLM invocation when max_turns=0, got %d calls", llm.calls)
	}
	if len(mcp.calls) != 2 { // initial navigate + initial snapshot only
		t.Fatalf("expected only the initial navigate+snapshot calls, got %d", len(mcp.calls))
	}
}

// TestRunExtraToolCallsInSameTurnAreSkipped checks the single-tool-per-turn
// policy: when a turn proposes more than one tool call, only the first is
// ever dispatched to the MCP server.
func TestRunExtraToolCallsInSameTurnAreSkipped(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{
				{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}},
				{ID: "2", Name: "browser_click", Args: map[string]any{"ref": "e2"}},
			}},
			{ToolCalls: []orchtypes.ToolCall{{ID: "3", Name: ToolCompleteTask, Args: map[string]any{"summary": "done", "succeeded": true}}}},
		},
	}
	mcp := &fakeMCP{pages: []string{"", "", "", "Page URL: https://example.test/done\nPage Title: Cancellation confirmed\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	clicks := 0
	for _, c := range mcp.calls {
		if c.Name == "browser_click" {
			clicks++
		}
	}
	if clicks != 1 {
		t.Fatalf("expected only the first tool call in the turn to reach the MCP server, got %d browser_click dispatches", clicks)
	}
}

func TestRunNoActionCapExceeded(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{Text: "thinking..."},
			{Text: "still thinking..."},
			{Text: "hmm..."},
		},
	}
	mcp := &fakeMCP{}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonNoActionExceeded {
		t.Fatalf("expected no_action_exceeded, got %s", result.Reason)
	}
}

func TestRunLLMErrorTerminatesRun(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{errs: []error{orcherrors.NewLLMError("auth", "bad api key", nil)}}
	mcp := &fakeMCP{}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonLLMError {
		t.Fatalf("expected llm_error, got %s", result.Reason)
	}
}

func TestRunMCPConnectionErrorTerminatesRun(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{"ref": "e1"}}}},
		},
	}
	mcp := &fakeMCP{}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})
	mcp.callErr = orcherrors.NewMCPConnectionError("server process died", nil)

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Reason != orchtypes.ReasonMCPError {
		t.Fatalf("expected mcp_error when the initial navigate fails, got %s", result.Reason)
	}
}

func TestRunUnknownServiceReturnsError(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{}
	mcp := &fakeMCP{}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	_, err := runner.Run(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unregistered service name")
	}
	if !orcherrors.Is(err, orcherrors.KindConfiguration) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestRunInvalidToolArgsRejectedWithoutDispatch(t *testing.T) {
	cfg := baseTestConfig()
	llm := &fakeLLM{
		turns: []orchtypes.AssistantResponse{
			{ToolCalls: []orchtypes.ToolCall{{ID: "1", Name: "browser_click", Args: map[string]any{}}}}, // missing required "ref"
			{ToolCalls: []orchtypes.ToolCall{{ID: "2", Name: ToolCompleteTask, Args: map[string]any{"summary": "gave up", "succeeded": false}}}},
		},
	}
	// The init snapshot already shows a failure indicator, so the
	// complete_task call that follows the rejected click is independently
	// verified right away.
	mcp := &fakeMCP{pages: []string{"", "Page URL: https://example.test/account\nPage Title: Cancellation failed\n"}}
	runner := newTestRunner(t, cfg, llm, mcp, &checkpoint.ScriptedPrompt{})

	result, err := runner.Run(context.Background(), "testsvc")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(mcp.calls) != 2 { // navigate (init) + snapshot (init); the malformed click never reaches the MCP server
		t.Fatalf("expected the malformed click never to reach the MCP server, got %d calls", len(mcp.calls))
	}
	if result.Success {
		t.Fatal("expected the task not to succeed")
	}
}
