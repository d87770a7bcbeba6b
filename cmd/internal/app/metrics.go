package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cellar/cmd/internal/outbox"
	"cellar/cmd/internal/realtime"
)

// Metrics exposes sync-engine counters on the local admin endpoint. It is
// a pure event consumer: the core components never touch it directly.
type Metrics struct {
	registry *prometheus.Registry

	queued    prometheus.Counter
	processed prometheus.Counter
	retries   prometheus.Counter
	discarded *prometheus.CounterVec

	connects    prometheus.Counter
	disconnects prometheus.Counter
	messages    *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "outbox", Name: "queued_total",
			Help: "Mutations accepted into the outbox.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "outbox", Name: "processed_total",
			Help: "Mutations delivered and removed.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "outbox", Name: "retries_total",
			Help: "Delivery retries scheduled.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "outbox", Name: "discarded_total",
			Help: "Mutations discarded, by reason.",
		}, []string{"reason"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "realtime", Name: "connects_total",
			Help: "Successful channel connects.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "realtime", Name: "disconnects_total",
			Help: "Channel disconnects.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellar", Subsystem: "realtime", Name: "messages_total",
			Help: "Inbound realtime messages, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(m.queued, m.processed, m.retries, m.discarded,
		m.connects, m.disconnects, m.messages)
	return m
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueue consumes outbox events.
func (m *Metrics) ObserveQueue(ev outbox.Event) {
	switch ev.Type {
	case outbox.EventQueued:
		m.queued.Inc()
	case outbox.EventProcessed:
		m.processed.Inc()
	case outbox.EventRetryScheduled:
		m.retries.Inc()
	case outbox.EventDiscarded:
		m.discarded.WithLabelValues(string(ev.Reason)).Inc()
	}
}

// ObserveChannel consumes realtime events.
func (m *Metrics) ObserveChannel(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventConnect:
		m.connects.Inc()
	case realtime.EventDisconnect:
		m.disconnects.Inc()
	case realtime.EventMessage:
		if ev.Envelope != nil {
			m.messages.WithLabelValues(ev.Envelope.Type).Inc()
		}
	}
}
