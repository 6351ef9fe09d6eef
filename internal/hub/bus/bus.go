// Package bus provides an optional Redis-backed cross-instance relay
// for the Hub, so a horizontally-scaled deployment can deliver a
// frame to a device connected to a different hub instance. It is nil-
// safe throughout: a single-instance Hub runs with Service == nil and
// every method becomes a no-op, matching spec.md's default (the core
// spec assumes one hub process; this is a SPEC_FULL addition grounded
// on the teacher's internal/v1/bus/redis.go).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/metrics"
	"github.com/cliremote/cliremote/internal/logging"
)

// DirectPayload is a frame addressed to a specific device, published
// on that device's channel so whichever hub instance holds its live
// connection can deliver it.
type DirectPayload struct {
	DeviceID string          `json:"deviceId"`
	Frame    json.RawMessage `json:"frame"`
}

// Service wraps a Redis pub/sub client with a circuit breaker,
// mirroring the teacher's bus.Service.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New connects to Redis and verifies reachability. Returns an error
// if Redis is configured but unreachable; callers that want graceful
// degradation should treat a nil *Service (not calling New at all) as
// the single-instance default.
func New(addr, password string) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "hub_bus",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("hub_bus").Set(breakerStateValue(to))
		},
	}

	logging.Info(nil, "connected to hub bus", zap.String("addr", addr))
	return &Service{client: client, cb: gobreaker.NewCircuitBreaker(settings)}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func channelFor(deviceID string) string {
	return "cliremote:device:" + deviceID
}

// PublishDirect forwards a raw frame to deviceID's channel. A nil
// Service is a silent no-op that returns nil. While the circuit
// breaker is open the frame is dropped and gobreaker.ErrOpenState is
// returned, so the caller falls back to "peer offline" handling.
func (s *Service) PublishDirect(ctx context.Context, deviceID string, frame json.RawMessage) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (any, error) {
		data, err := json.Marshal(DirectPayload{DeviceID: deviceID, Frame: frame})
		if err != nil {
			return nil, err
		}
		return nil, s.client.Publish(ctx, channelFor(deviceID), data).Err()
	})
	if err == gobreaker.ErrOpenState {
		logging.Warn(ctx, "hub bus circuit open, dropping direct publish", zap.String("device_id", deviceID))
		return err
	}
	return err
}

// Subscribe listens for frames addressed to deviceID until ctx is
// cancelled, invoking handler for each. The subscriber is the hub
// instance that holds deviceID's live connection, receiving frames
// other instances published for that device — not wired by default since this
// Hub's primary deployment target is single-instance; left available
// for a horizontally-scaled deployment to opt into per device.
func (s *Service) Subscribe(ctx context.Context, deviceID string, handler func(json.RawMessage)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, channelFor(deviceID))
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload DirectPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Warn(ctx, "hub bus: malformed direct payload", zap.Error(err))
					continue
				}
				handler(payload.Frame)
			}
		}
	}()
}

// Ping checks Redis connectivity for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		return nil
	}
	return err
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
