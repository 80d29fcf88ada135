// Package metrics exposes Prometheus collectors for detection runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDiscarded = "discarded"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	runs            *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	keptBoxes       prometheus.Gauge
	reruns          prometheus.Counter
	captures        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inspect_runs_total",
			Help: "Total number of detection runs by outcome",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inspect_provider_latency_seconds",
			Help:    "Detection provider call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"provider"}),
		keptBoxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inspect_kept_boxes",
			Help: "Number of boxes in the last annotation",
		}),
		reruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inspect_threshold_reruns_total",
			Help: "Total number of debounced threshold re-runs started",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inspect_captures_total",
			Help: "Total number of capture attempts by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.runs,
		m.providerLatency,
		m.keptBoxes,
		m.reruns,
		m.captures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveProvider records the latency of one provider call.
func (m *Metrics) ObserveProvider(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RunFinished counts a run with the given outcome. kept is recorded for
// successful runs only.
func (m *Metrics) RunFinished(outcome string, kept int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.keptBoxes.Set(float64(kept))
	}
}

// Rerun counts a debounced re-run.
func (m *Metrics) Rerun() {
	if m == nil {
		return
	}
	m.reruns.Inc()
}

// Capture counts a capture attempt.
func (m *Metrics) Capture(err error) {
	if m == nil {
		return
	}
	result := OutcomeOK
	if err != nil {
		result = OutcomeError
	}
	m.captures.WithLabelValues(result).Inc()
}
