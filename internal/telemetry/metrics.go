// Package telemetry exposes prometheus metrics for the esbridge HTTP
// server.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the serve-path instrumentation.
type Metrics struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds a Metrics set on its own registry so tests can create
// instances without double-registration panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esbridge",
		Name:      "calls_total",
		Help:      "Transform and build calls by operation, backend, and outcome.",
	}, []string{"operation", "backend", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "esbridge",
		Name:      "call_duration_seconds",
		Help:      "Latency of transform and build calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "backend"})

	registry.MustRegister(calls, duration)

	return &Metrics{registry: registry, calls: calls, duration: duration}
}

// Observe records one completed call.
func (m *Metrics) Observe(operation, backend string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(operation, backend, outcome).Inc()
	m.duration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
