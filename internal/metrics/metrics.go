// Package metrics holds the Prometheus collectors exported by the signaling
// server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshcall"

// Drop reasons for undelivered signaling messages.
const (
	DropReasonRoutingMiss = "routing_miss"
	DropReasonQueueFull   = "queue_full"
	DropReasonRateLimited = "rate_limited"
	DropReasonNotInRoom   = "not_in_room"
)

// Metrics groups the server collectors under a private registry so that
// several servers (and tests) can live in one process.
type Metrics struct {
	Connections  prometheus.Gauge
	Rooms        prometheus.Gauge
	Participants prometheus.Gauge
	Joins        prometheus.Counter
	Leaves       prometheus.Counter
	Routed       prometheus.Counter
	Dropped      *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one participant.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants across all rooms.",
		}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Successful room joins.",
		}),
		Leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Participants removed from a room.",
		}),
		Routed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_routed_total",
			Help:      "Signal payloads handed to the recipient's connection.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_dropped_total",
			Help:      "Messages that were not delivered, by reason.",
		}, []string{"reason"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Connections,
		m.Rooms,
		m.Participants,
		m.Joins,
		m.Leaves,
		m.Routed,
		m.Dropped,
		prometheus.NewGoCollector(),
	)
	return m
}

// Drop records an undelivered message.
func (m *Metrics) Drop(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
