// Package observability owns the Prometheus collectors shared by the chat
// core and its WebSocket transport.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	connectionsActive  prometheus.Gauge
	eventsTotal        *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	handlerPanicsTotal prometheus.Counter
	evictedRoomsTotal  prometheus.Counter
	droppedDeliveries  prometheus.Counter
)

// RegisterMetrics initialises the chat collectors on the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of WebSocket connections currently open.",
		})

		eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound client events by name.",
		}, []string{"event"})

		messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages recorded in room history by type.",
		}, []string{"type"})

		rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rejections_total",
			Help: "Inbound events rejected at admission by reason.",
		}, []string{"reason"})

		handlerPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_handler_panics_total",
			Help: "Event handlers that panicked and were recovered.",
		})

		evictedRoomsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_history_evicted_rooms_total",
			Help: "Idle rooms evicted by the cleanup sweep.",
		})

		droppedDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_dropped_deliveries_total",
			Help: "Outbound events dropped because a client queue was full.",
		})

		prometheus.MustRegister(
			connectionsActive,
			eventsTotal,
			messagesTotal,
			rejectionsTotal,
			handlerPanicsTotal,
			evictedRoomsTotal,
			droppedDeliveries,
		)
	})
}

// ConnectionsActive exposes the open connection gauge.
func ConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return connectionsActive
}

// Events exposes the inbound event counter.
func Events() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsTotal
}

// Messages exposes the recorded message counter.
func Messages() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesTotal
}

// Rejections exposes the admission rejection counter.
func Rejections() *prometheus.CounterVec {
	RegisterMetrics()
	return rejectionsTotal
}

// HandlerPanics exposes the recovered panic counter.
func HandlerPanics() prometheus.Counter {
	RegisterMetrics()
	return handlerPanicsTotal
}

// EvictedRooms exposes the swept room counter.
func EvictedRooms() prometheus.Counter {
	RegisterMetrics()
	return evictedRoomsTotal
}

// DroppedDeliveries exposes the slow consumer drop counter.
func DroppedDeliveries() prometheus.Counter {
	RegisterMetrics()
	return droppedDeliveries
}
