// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teliq_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teliq_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teliq_connections_rejected_total",
		Help: "Handshake rejections by reason",
	}, []string{"reason"})

	// Event metrics
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teliq_events_received_total",
		Help: "Inbound client events by type",
	}, []string{"type"})

	EventsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teliq_events_sent_total",
		Help: "Total events delivered to clients",
	})

	EventErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teliq_event_errors_total",
		Help: "Error acks sent to clients by code",
	}, []string{"code"})

	// Persistence metrics
	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teliq_messages_persisted_total",
		Help: "Chat messages durably written to the store",
	})

	// Reliability metrics
	SlowClientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teliq_slow_clients_dropped_total",
		Help: "Events dropped because a client send buffer was full",
	})

	RateLimitedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teliq_rate_limited_events_total",
		Help: "Inbound events rejected by the per-session rate limiter",
	})

	// Room metrics
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teliq_rooms_active",
		Help: "Current number of rooms with at least one member",
	})
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsRejected)

	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(EventsSent)
	prometheus.MustRegister(EventErrors)

	prometheus.MustRegister(MessagesPersisted)

	prometheus.MustRegister(SlowClientsDropped)
	prometheus.MustRegister(RateLimitedEvents)

	prometheus.MustRegister(RoomsActive)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
