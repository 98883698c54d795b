// Package metrics provides Prometheus instrumentation for the Parley
// realtime gateway. It exposes gauges for connection and room counts,
// counters for event throughput and throttling, and a histogram for event
// handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsTotal counts inbound client events by type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_events_total",
		Help: "Total number of inbound client events processed",
	}, []string{"type"})

	// ThrottledTotal counts events rejected by the throttle ledger, labeled
	// by throttler name.
	ThrottledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_throttled_total",
		Help: "Total number of events rejected by the throttle ledger",
	}, []string{"rule"})

	// RoomsActive tracks the number of rooms with at least one local member.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_rooms_active",
		Help: "Current number of rooms with local members",
	})

	// FanoutDropped counts droppable events evicted from full outbound queues.
	FanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_fanout_dropped_total",
		Help: "Droppable events evicted from full per-connection outbound queues",
	})

	// StaleConnections tracks connections whose last heartbeat is older than
	// the configured staleness deadline. Staleness is a liveness signal, not
	// a close reason.
	StaleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_stale_connections",
		Help: "Connections past the heartbeat staleness deadline",
	})

	// EventLatency records inbound event handling latency in seconds.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_event_latency_seconds",
		Help:    "Inbound event handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsTotal,
		ThrottledTotal,
		RoomsActive,
		FanoutDropped,
		StaleConnections,
		EventLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
