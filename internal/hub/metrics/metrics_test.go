package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncDecConnection_UpdatesGauge(t *testing.T) {
	before := testutil.ToFloat64(ConnectionsActive)

	IncConnection()
	assert.Equal(t, before+1, testutil.ToFloat64(ConnectionsActive))

	DecConnection()
	assert.Equal(t, before, testutil.ToFloat64(ConnectionsActive))
}

func TestCounterVecs_IncrementWithoutPanic(t *testing.T) {
	RelayFramesTotal.WithLabelValues("message", "delivered").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(RelayFramesTotal.WithLabelValues("message", "delivered")), float64(1))

	PairAttemptsTotal.WithLabelValues("request", "ok").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(PairAttemptsTotal.WithLabelValues("request", "ok")), float64(1))

	ReaperEvictionsTotal.WithLabelValues("connection").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(ReaperEvictionsTotal.WithLabelValues("connection")), float64(1))

	RateLimitExceededTotal.WithLabelValues("pairing").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(RateLimitExceededTotal.WithLabelValues("pairing")), float64(1))
}

func TestCircuitBreakerState_SetsGaugeByLabel(t *testing.T) {
	CircuitBreakerState.WithLabelValues("hub_bus").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("hub_bus")))
}
