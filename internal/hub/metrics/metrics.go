// Package metrics declares the Hub's Prometheus metrics, following
// the teacher codebase's namespace_subsystem_name convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks live Hub WebSocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "Current number of live Hub WebSocket connections.",
	})

	// RoomsActive tracks live rooms (may exceed connected devices; a
	// room survives a single peer disconnecting).
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "rooms_active",
		Help:      "Current number of rooms known to the hub.",
	})

	// PendingPairsActive tracks outstanding pair codes awaiting confirm.
	PendingPairsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "pending_pairs_active",
		Help:      "Current number of pending pair codes awaiting confirmation.",
	})

	// RelayFramesTotal counts relayed frames by event type and outcome.
	RelayFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "relay_frames_total",
		Help:      "Total frames processed by the relay, by type and outcome.",
	}, []string{"event_type", "status"})

	// PairAttemptsTotal counts pairing HTTP requests by outcome.
	PairAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "pair_attempts_total",
		Help:      "Total pair request/confirm calls, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// ReaperEvictionsTotal counts reaper-driven removals by kind.
	ReaperEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "hub",
		Name:      "reaper_evictions_total",
		Help:      "Total entities evicted by the heartbeat reaper, by kind.",
	}, []string{"kind"})

	// CircuitBreakerState mirrors the teacher's gauge for the Redis bus breaker.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cliremote",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	}, []string{"service"})

	// RateLimitExceededTotal counts requests rejected by the rate limiter.
	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cliremote",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by the rate limiter.",
	}, []string{"endpoint"})
)

func IncConnection() { ConnectionsActive.Inc() }
func DecConnection() { ConnectionsActive.Dec() }
