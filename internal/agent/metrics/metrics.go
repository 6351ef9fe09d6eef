// Package metrics declares the Desktop Agent's Prometheus metrics,
// following the same namespace_subsystem_name convention as
// internal/hub/metrics. The Agent has no public ingress, so these are
// served on a loopback-only port for operator debugging rather than a
// hub-style public /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks live sessions in the multiplexer.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "agent",
		Name:      "sessions_active",
		Help:      "Current number of sessions held by the multiplexer.",
	})

	// WorkerRestartsTotal counts CLI child-process restarts, by session id.
	WorkerRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "agent",
		Name:      "worker_restarts_total",
		Help:      "Total session worker restarts, by session id.",
	}, []string{"session_id"})

	// CircuitBreakerState mirrors the hub's gauge, here for the
	// per-worker restart breaker instead of the Redis bus.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	}, []string{"service"})

	// HubReconnectsTotal counts hubclient reconnect attempts.
	HubReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "agent",
		Name:      "hub_reconnects_total",
		Help:      "Total reconnect attempts made by the hub client.",
	})
)
