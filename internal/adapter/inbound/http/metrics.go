// Package http provides the observability HTTP adapter: health, metrics,
// and the recent security-event feed. The engine itself is consumed as a
// library; this adapter exposes read-only operational surfaces.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bastion-core/bastion/internal/domain/event"
)

// Metrics holds all Prometheus metrics for Bastion.
// Pass to components that need to record metrics.
type Metrics struct {
	AuthAttempts      *prometheus.CounterVec
	PolicyEvaluations *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	SinkDropsTotal    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AuthAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "auth_attempts_total",
				Help:      "Total authentication attempts by outcome",
			},
			[]string{"outcome"}, // outcome=succeeded/failed/blocked/throttled
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations by result",
			},
			[]string{"result"}, // result=allow/deny
		),
		EventsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "security_events_total",
				Help:      "Total security events by category and severity",
			},
			[]string{"category", "severity"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bastion",
				Name:      "active_sessions",
				Help:      "Number of live sessions",
			},
		),
		SinkDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "event_sink_drops_total",
				Help:      "Total events dropped by the durable sink due to backpressure",
			},
		),
	}
}

// Sink returns an event.Sink that keeps the counters current. Subscribe
// it on the bus so every published event is counted.
func (m *Metrics) Sink() event.Sink {
	return event.SinkFunc(func(e event.SecurityEvent) {
		m.EventsPublished.WithLabelValues(string(e.Category), string(e.Severity)).Inc()

		switch e.Action {
		case "authentication-succeeded":
			m.AuthAttempts.WithLabelValues("succeeded").Inc()
		case "authentication-failed":
			m.AuthAttempts.WithLabelValues("failed").Inc()
		case "authentication-blocked":
			m.AuthAttempts.WithLabelValues("blocked").Inc()
		case "authentication-throttled":
			m.AuthAttempts.WithLabelValues("throttled").Inc()
		case "session-created":
			m.ActiveSessions.Inc()
		case "session-revoked":
			m.ActiveSessions.Dec()
		}

		if e.Category == event.CategoryAuthorization {
			if allowed, ok := e.Details["allowed"].(bool); ok {
				if allowed {
					m.PolicyEvaluations.WithLabelValues("allow").Inc()
				} else {
					m.PolicyEvaluations.WithLabelValues("deny").Inc()
				}
			}
		}
	})
}
