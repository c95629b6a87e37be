package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	policyDecisions *prometheus.CounterVec
	stepResults     *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	replans         *prometheus.CounterVec
	taskOutcomes    *prometheus.CounterVec
	strategyOps     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novaflow_policy_decisions_total",
				Help: "Total number of policy gate decisions",
			},
			[]string{"tier", "effect"},
		),
		stepResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novaflow_step_results_total",
				Help: "Total number of step results by status",
			},
			[]string{"capability", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novaflow_step_duration_seconds",
				Help:    "Step execution latency",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"capability"},
		),
		replans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novaflow_replans_total",
				Help: "Total number of replan evaluations by decision",
			},
			[]string{"decision"},
		),
		taskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novaflow_task_outcomes_total",
				Help: "Total number of finished tasks by terminal state",
			},
			[]string{"state"},
		),
		strategyOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novaflow_strategy_operations_total",
				Help: "Strategy store operations by kind and result",
			},
			[]string{"operation", "result"},
		),
	}
	m.registry.MustRegister(
		m.policyDecisions,
		m.stepResults,
		m.stepDuration,
		m.replans,
		m.taskOutcomes,
		m.strategyOps,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PolicyDecision(tier, effect string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(tier, effect).Inc()
}

func (m *Metrics) StepResult(capability, status string, seconds float64) {
	if m == nil {
		return
	}
	m.stepResults.WithLabelValues(capability, status).Inc()
	m.stepDuration.WithLabelValues(capability).Observe(seconds)
}

func (m *Metrics) Replan(decision string) {
	if m == nil {
		return
	}
	m.replans.WithLabelValues(decision).Inc()
}

func (m *Metrics) TaskOutcome(state string) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) StrategyOp(operation, result string) {
	if m == nil {
		return
	}
	m.strategyOps.WithLabelValues(operation, result).Inc()
}
