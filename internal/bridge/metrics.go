package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nativescan_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nativescan_events_dropped_total",
			Help: "Events not delivered to a client because its queue was full",
		},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nativescan_calls_total",
			Help: "Total number of bridge calls",
		},
		[]string{"method", "status"},
	)
)

// CountReceived records an inbound websocket message.
func CountReceived() { websocketMessagesTotal.WithLabelValues("received").Inc() }
