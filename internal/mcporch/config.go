// Package mcporch implements the task runner (C8): the turn-based loop that
// drives an LLM through a sequence of single, human-gated MCP tool calls
// until it reports completion, is rejected by a human, or exhausts its turn
// or no-action budget. It is the only component in the orchestrator that
// depends on every other one.
package mcporch

import "time"

// defaultMaxTurns is the turn budget used when MaxTurns is left nil. It is
// not the same as a caller explicitly passing zero: max_turns=0 is a valid,
// intentional budget that terminates the run immediately after the initial
// navigation without ever invoking the LLM.
const defaultMaxTurns = 20

// RunnerConfig bounds a single Run and names which MCP tools are
// navigation-class (their execution invalidates previously issued
// accessibility-tree element references, per the ref-freshness invariant).
//
// MaxTurns is a pointer so sanitizeRunnerConfig can tell "the caller left
// this unset" (nil, substitute defaultMaxTurns) apart from "the caller
// explicitly wants a zero-turn budget" (non-nil pointer to 0).
type RunnerConfig struct {
	MaxTurns        *int
	NoActionCap     int
	Model           string
	NavigationTools map[string]bool
	AuthWaitTimeout time.Duration
	ApprovalTimeout time.Duration
}

// DefaultRunnerConfig returns the orchestrator's defaults: 20 turns, 3
// consecutive no-action turns, and the navigation-class tools a Playwright
// MCP server typically exposes.
func DefaultRunnerConfig() RunnerConfig {
	turns := defaultMaxTurns
	return RunnerConfig{
		MaxTurns:    &turns,
		NoActionCap: 3,
		NavigationTools: map[string]bool{
			"browser_navigate":  true,
			"browser_click":     true,
			"browser_press_key": true,
			"browser_submit":    true,
		},
		AuthWaitTimeout: 10 * time.Minute,
		ApprovalTimeout: 10 * time.Minute,
	}
}

func sanitizeRunnerConfig(cfg RunnerConfig) RunnerConfig {
	if cfg.MaxTurns == nil {
		turns := defaultMaxTurns
		cfg.MaxTurns = &turns
	}
	if cfg.NoActionCap <= 0 {
		cfg.NoActionCap = DefaultRunnerConfig().NoActionCap
	}
	if cfg.NavigationTools == nil {
		cfg.NavigationTools = DefaultRunnerConfig().NavigationTools
	}
	if cfg.AuthWaitTimeout <= 0 {
		cfg.AuthWaitTimeout = DefaultRunnerConfig().AuthWaitTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultRunnerConfig().ApprovalTimeout
	}
	return cfg
}
