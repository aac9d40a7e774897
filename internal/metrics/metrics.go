// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrooms_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrooms_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrooms_connections_active",
			Help: "WebSocket connections currently admitted to a room",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrooms_rooms_active",
			Help: "Room actors currently running",
		},
	)

	Hibernations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrooms_room_hibernations_total",
			Help: "Total times a room dropped its in-memory sessions after going idle",
		},
	)

	ProtocolViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrooms_protocol_violations_total",
			Help: "Connections closed for protocol violations",
		},
		[]string{"reason"},
	)

	// Business metrics
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrooms_commands_total",
			Help: "Client commands processed by rooms",
		},
		[]string{"type"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrooms_rate_limited_total",
			Help: "Commands rejected by the per-origin rate limiter",
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrooms_broadcasts_total",
			Help: "Messages broadcast to rooms",
		},
		[]string{"type"},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrooms_send_failures_total",
			Help: "Frames that could not be queued for a recipient",
		},
	)

	// Infrastructure metrics
	HistoryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrooms_history_latency_seconds",
			Help:    "History store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"driver", "op"},
	)

	HistoryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrooms_history_errors_total",
			Help: "History store operations that failed",
		},
		[]string{"driver", "op"},
	)
)
