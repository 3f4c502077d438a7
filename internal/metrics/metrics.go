// Package metrics exposes Prometheus counters for the call orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	CallsStarted       *prometheus.CounterVec
	CallsClosed        *prometheus.CounterVec
	Transfers          *prometheus.CounterVec
	LiveCalls          prometheus.Gauge
	GenerationDuration *prometheus.HistogramVec
	GenerationErrors   *prometheus.CounterVec
	ReaperClosed       prometheus.Counter
	AttentionFlags     *prometheus.CounterVec
	SignalingErrors    *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callpilot"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_started_total",
				Help:      "Calls received, by business-hours outcome",
			},
			[]string{"hours"},
		),
		CallsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_closed_total",
				Help:      "Calls reaching a terminal status",
			},
			[]string{"status", "closed_by"},
		),
		Transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Transfers dialed, by department and how it was chosen",
			},
			[]string{"department", "via"},
		),
		LiveCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_calls",
				Help:      "Calls with in-memory state",
			},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of generation requests",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15},
			},
			[]string{"provider"},
		),
		GenerationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_errors_total",
				Help:      "Generation requests that fell back to the apology reply",
			},
			[]string{"provider", "reason"},
		),
		ReaperClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_closed_total",
				Help:      "Stale sessions closed by the reaper",
			},
		),
		AttentionFlags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attention_flags_total",
				Help:      "Sessions flagged for operator attention",
			},
			[]string{"reason"},
		),
		SignalingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signaling_errors_total",
				Help:      "Webhook events answered with the safe fallback",
			},
			[]string{"event", "kind"},
		),
	}

	registry.MustRegister(
		m.CallsStarted,
		m.CallsClosed,
		m.Transfers,
		m.LiveCalls,
		m.GenerationDuration,
		m.GenerationErrors,
		m.ReaperClosed,
		m.AttentionFlags,
		m.SignalingErrors,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordGeneration records one generation request.
func (m *Metrics) RecordGeneration(provider string, duration time.Duration, failReason string) {
	m.GenerationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if failReason != "" {
		m.GenerationErrors.WithLabelValues(provider, failReason).Inc()
	}
}

// RecordClosed records a call reaching a terminal status.
func (m *Metrics) RecordClosed(status, closedBy string) {
	m.CallsClosed.WithLabelValues(status, closedBy).Inc()
}
