// Package metrics declares the daemon's prometheus instrumentation. The
// daemon registers collectors only; exposition is left to the embedding
// process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts dispatched commands by domain and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_requests_total",
			Help: "Dispatched commands by domain and status",
		},
		[]string{"domain", "status"},
	)

	// EventsTotal counts unsolicited events pushed to the client.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_events_total",
			Help: "Unsolicited events emitted by domain",
		},
		[]string{"domain"},
	)

	// ActiveSessions tracks registered application sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devlink_active_sessions",
			Help: "Application sessions currently registered",
		},
	)

	// ActiveTunnels tracks open proxy sockets.
	ActiveTunnels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devlink_active_tunnels",
			Help: "Proxy tunnels currently open",
		},
	)

	// RestartMerges counts restart/reload requests that coalesced into an
	// already-pending operation instead of executing independently.
	RestartMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devlink_restart_merges_total",
			Help: "Restart or reload requests merged into a pending operation",
		},
	)
)
