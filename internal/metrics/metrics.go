// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shsh_chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Relay metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shsh_chat_active_connections",
			Help: "Users with a registered live connection",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_chat_messages_sent_total",
			Help: "Messages persisted, by status at send time",
		},
		[]string{"status"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_chat_status_transitions_total",
			Help: "Applied message status transitions",
		},
		[]string{"status"},
	)

	PushesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_chat_pushes_dropped_total",
			Help: "Outbound events dropped because the connection was gone or slow",
		},
		[]string{"event"},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shsh_chat_decode_failures_total",
			Help: "Stored envelopes that failed to decrypt",
		},
	)

	RejectedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_chat_rejected_events_total",
			Help: "Inbound events rejected before dispatch",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shsh_chat_store_latency_seconds",
			Help:    "SQLite operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)
)
