// Package metrics exposes Prometheus instrumentation for print jobs and OS print commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the print bridge.
type Metrics struct {
	// Print attempts by operation ("ticket", "test") and outcome
	PrintAttempts *prometheus.CounterVec

	// OS command latency by step ("list", "print")
	CommandLatency *prometheus.HistogramVec

	// Jobs waiting for the worker
	QueueDepth prometheus.Gauge

	// Connected WebSocket clients
	ActiveClients prometheus.Gauge

	// Requests rejected by the per-client rate limiter
	RateLimited prometheus.Counter
}

// New creates a Metrics instance registered on the default Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a Metrics instance registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PrintAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_bridge_print_attempts_total",
			Help: "Total print attempts by operation and outcome",
		}, []string{"operation", "outcome"}),

		CommandLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_bridge_command_duration_seconds",
			Help:    "Duration of OS printer commands by step",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ticket_bridge_queue_depth",
			Help: "Print jobs waiting for the worker",
		}),

		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ticket_bridge_active_clients",
			Help: "Connected WebSocket clients",
		}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticket_bridge_rate_limited_total",
			Help: "Print requests rejected by the per-client rate limiter",
		}),
	}
}

// IncrementAttempt records a print attempt outcome ("ok", "failed", "error").
func (m *Metrics) IncrementAttempt(operation, outcome string) {
	if m != nil {
		m.PrintAttempts.WithLabelValues(operation, outcome).Inc()
	}
}

// ObserveCommand records the duration of an OS command step started at start.
func (m *Metrics) ObserveCommand(step string, start time.Time) {
	if m != nil {
		m.CommandLatency.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}

// SetQueueDepth records the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// SetActiveClients records the number of connected clients.
func (m *Metrics) SetActiveClients(n int) {
	if m != nil {
		m.ActiveClients.Set(float64(n))
	}
}

// IncrementRateLimited records a rejected request.
func (m *Metrics) IncrementRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}
