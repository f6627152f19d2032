// Package observability wires Prometheus metrics and an OpenTelemetry
// tracer provider shared across the orchestrator's subsystems.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the core subsystems publish
// to. A nil *Metrics is valid and every method on it is a no-op, so
// callers never need a feature flag at the call site.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec

	goalTransitions *prometheus.CounterVec
}

// NewMetrics constructs a Metrics instance registered against a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "toolserver",
			Name:      "calls_total",
			Help:      "Total number of tool calls by server, tool, and outcome.",
		},
		[]string{"server", "tool", "outcome"},
	)
	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "toolserver",
			Name:      "call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"server", "tool"},
	)

	m.taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "taskexec",
			Name:      "tasks_total",
			Help:      "Total number of executed tasks by final status.",
		},
		[]string{"status"},
	)
	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "taskexec",
			Name:      "task_duration_seconds",
			Help:      "Per-task execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"status"},
	)

	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "llmgateway",
			Name:      "calls_total",
			Help:      "Total number of LLM gateway calls by outcome.",
		},
		[]string{"outcome"},
	)
	m.llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "llmgateway",
			Name:      "call_duration_seconds",
			Help:      "LLM gateway round-trip duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"outcome"},
	)

	m.goalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "workflow",
			Name:      "goal_transitions_total",
			Help:      "Total number of goal status transitions by resulting status.",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(
		m.toolCalls, m.toolCallDuration,
		m.taskRuns, m.taskDuration,
		m.llmCalls, m.llmCallDuration,
		m.goalTransitions,
	)
	return m
}

// Registry returns the underlying Prometheus registry, for wiring a
// /metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveToolCall records one tool call's outcome and duration.
func (m *Metrics) ObserveToolCall(server, tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	m.toolCallDuration.WithLabelValues(server, tool).Observe(seconds)
}

// ObserveTask records one task's final status and duration.
func (m *Metrics) ObserveTask(status string, seconds float64) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(seconds)
}

// ObserveLLMCall records one LLM gateway round-trip.
func (m *Metrics) ObserveLLMCall(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(outcome).Inc()
	m.llmCallDuration.WithLabelValues(outcome).Observe(seconds)
}

// ObserveGoalTransition records a goal entering a new status.
func (m *Metrics) ObserveGoalTransition(status string) {
	if m == nil {
		return
	}
	m.goalTransitions.WithLabelValues(status).Inc()
}
