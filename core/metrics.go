package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the loop and the HTTP surface.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	Runs             *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	Turns            *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	EndpointRetries  prometheus.Counter
	EndpointFailures *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
}

// NewMetrics constructs a registry with the agent collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microagent_runs_total",
		Help: "Finished runs by final state",
	}, []string{"state"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "microagent_run_duration_seconds",
		Help:    "Run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"state"})

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microagent_turns_total",
		Help: "Turns appended to memory by command and outcome",
	}, []string{"command", "success"})

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microagent_rejections_total",
		Help: "Proposals rejected before dispatch by kind",
	}, []string{"kind"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "microagent_endpoint_retries_total",
		Help: "Completion attempts retried after a transient failure",
	})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "microagent_endpoint_failures_total",
		Help: "Completion requests that failed after retries by kind",
	}, []string{"kind"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "microagent_active_runs",
		Help: "Runs currently executing",
	})

	reg.MustRegister(runs, durs, turns, rejections, retries, failures, active)

	return &Metrics{
		registry:         reg,
		Runs:             runs,
		RunDuration:      durs,
		Turns:            turns,
		Rejections:       rejections,
		EndpointRetries:  retries,
		EndpointFailures: failures,
		ActiveRuns:       active,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(state State, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(state)).Inc()
	m.RunDuration.WithLabelValues(string(state)).Observe(duration.Seconds())
}

// RecordTurn records an appended turn.
func (m *Metrics) RecordTurn(command Command, success bool) {
	if m == nil {
		return
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.Turns.WithLabelValues(string(command), outcome).Inc()
}

// RecordRejection records a proposal that consumed a retry slot.
func (m *Metrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(kind).Inc()
}

// RecordEndpointRetry records one retried completion attempt.
func (m *Metrics) RecordEndpointRetry() {
	if m == nil {
		return
	}
	m.EndpointRetries.Inc()
}

// RecordEndpointFailure records a completion request that gave up.
func (m *Metrics) RecordEndpointFailure(kind string) {
	if m == nil {
		return
	}
	m.EndpointFailures.WithLabelValues(kind).Inc()
}

// IncActiveRuns increments the active run gauge.
func (m *Metrics) IncActiveRuns() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// DecActiveRuns decrements the active run gauge.
func (m *Metrics) DecActiveRuns() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
