// Package orchobserve carries the orchestrator's ambient Prometheus metrics,
// grounded on the teacher's internal/observability package.
package orchobserve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram the task runner updates over the
// course of a Run.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	TurnsPerRun    prometheus.Histogram
	ToolCallsTotal *prometheus.CounterVec
	ApprovalsTotal *prometheus.CounterVec
	AuthWaitsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns the orchestrator's metric set against
// reg. Pass prometheus.NewRegistry() in tests to avoid colliding with a
// process-wide default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subterm_orchestrator_runs_total",
			Help: "Total completed runs, labeled by service and terminal reason.",
		}, []string{"service", "reason"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subterm_orchestrator_run_duration_seconds",
			Help:    "Wall-clock duration of a run from start to terminal result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		TurnsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subterm_orchestrator_turns_per_run",
			Help:    "Number of LLM turns consumed before a run reached a terminal state.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subterm_orchestrator_tool_calls_total",
			Help: "Total tool calls dispatched, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ApprovalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subterm_orchestrator_approvals_total",
			Help: "Total human checkpoint approval decisions, labeled by decision.",
		}, []string{"decision"}),
		AuthWaitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subterm_orchestrator_auth_waits_total",
			Help: "Total authentication edge-case interruptions, labeled by kind.",
		}, []string{"kind"}),
	}
}
