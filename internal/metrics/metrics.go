// Package metrics exposes Prometheus collectors for workspace pool,
// dispatcher and phase activity.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "issueforge"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeWorkspaces prometheus.Gauge
	taskOutcomes     *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	dispatches       *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
}

// MustNewMetrics constructs and registers the collectors with reg.
// Collectors already registered under the same name are reused, so building
// several pools against one registry is safe. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active_workspaces",
			Help:      "Number of workspaces currently running a task.",
		}),
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_outcomes_total",
			Help:      "Tasks finished by the workspace pool, by outcome status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Wall time of tasks in the workspace pool.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"status"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Dispatch attempts, by result (success, failed, throttled).",
		}, []string{"result"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "transitions_total",
			Help:      "Phase transitions taken by work items.",
		}, []string{"from", "to"}),
	}

	m.activeWorkspaces = register(reg, m.activeWorkspaces)
	m.taskOutcomes = register(reg, m.taskOutcomes)
	m.taskDuration = register(reg, m.taskDuration)
	m.dispatches = register(reg, m.dispatches)
	m.phaseTransitions = register(reg, m.phaseTransitions)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// WorkspaceStarted marks a workspace as active.
func (m *Metrics) WorkspaceStarted() {
	if m == nil {
		return
	}
	m.activeWorkspaces.Inc()
}

// WorkspaceFinished marks an active workspace as done.
func (m *Metrics) WorkspaceFinished() {
	if m == nil {
		return
	}
	m.activeWorkspaces.Dec()
}

// ObserveTask records the outcome status and duration of one task.
func (m *Metrics) ObserveTask(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveDispatch records one dispatch attempt.
func (m *Metrics) ObserveDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// ObserveTransition records a phase change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
