// Package ratelimit applies per-IP request limits to the Hub's
// pairing endpoints and WebSocket upgrades, grounded on the teacher's
// internal/v1/ratelimit/limiter.go. Narrowed to the Hub's actual
// attack surface: there is no per-user limit here because the spec's
// Non-goals exclude hub-level authentication, so "user" isn't a
// concept the Hub can key on — every caller is rate-limited by IP.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/metrics"
	"github.com/cliremote/cliremote/internal/logging"
)

// Limiter holds the Hub's two IP-keyed rate limiters.
type Limiter struct {
	apiPublic *limiter.Limiter
	wsIP      *limiter.Limiter
}

// New builds a Limiter. redisClient may be nil, in which case an
// in-memory store is used (single-instance deployments, dev mode).
func New(apiPublicRate, wsIPRate string, redisClient *redis.Client) (*Limiter, error) {
	publicRate, err := limiter.NewRateFromFormatted(apiPublicRate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid api public rate: %w", err)
	}
	wsRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid ws ip rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "cliremote:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
		logging.Info(nil, "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Info(nil, "rate limiter using memory store")
	}

	return &Limiter{
		apiPublic: limiter.New(store, publicRate),
		wsIP:      limiter.New(store, wsRate),
	}, nil
}

// PairingMiddleware enforces the public per-IP limit on the pairing
// HTTP endpoints.
func (l *Limiter) PairingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.enforce(c, l.apiPublic, c.ClientIP(), "pairing")
	}
}

func (l *Limiter) enforce(c *gin.Context, lim *limiter.Limiter, key, endpoint string) {
	ctx := c.Request.Context()
	result, err := lim.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "rate limiter store failed, failing open", zap.Error(err))
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

	if result.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues(endpoint).Inc()
		c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "too many requests"})
		return
	}
	c.Next()
}

// AllowWebSocket reports whether ip may open another WebSocket
// connection, for use before upgrading (spec §4.2/§5 operate on
// already-upgraded sockets, so this check runs ahead of them).
func (l *Limiter) AllowWebSocket(ctx context.Context, ip string) bool {
	// Both limiters share one store; the prefix keeps their counters apart.
	result, err := l.wsIP.Get(ctx, "ws:"+ip)
	if err != nil {
		logging.Warn(ctx, "ws rate limiter store failed, failing open", zap.Error(err))
		return true
	}
	if result.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues("websocket_connect").Inc()
		return false
	}
	return true
}
