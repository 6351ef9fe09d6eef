// Package config validates the Hub's environment configuration at
// startup, in the same eager-validation style as the teacher
// codebase's config package: every required variable is checked up
// front and all failures are reported together rather than one crash
// at a time.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/logging"
)

// Config holds the Hub's validated environment configuration.
type Config struct {
	Port string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	GoEnv    string
	LogLevel string

	HeartbeatInterval time.Duration
	PairCodeTTL       time.Duration
	RoomIdleTimeout   time.Duration

	AllowedOrigins string

	RateLimitAPIPublic string
	RateLimitWSIP      string

	OTLPEndpoint string
}

// Load validates required environment variables and applies defaults
// for optional ones, mirroring the teacher's ValidateEnv.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = orDefault(getenv("PORT"), "3000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.RedisEnabled = getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = orDefault(getenv("REDIS_ADDR"), "localhost:6379")
		cfg.RedisPassword = getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = orDefault(getenv("GO_ENV"), "production")
	cfg.LogLevel = orDefault(getenv("LOG_LEVEL"), "info")
	cfg.AllowedOrigins = getenv("ALLOWED_ORIGINS")

	cfg.HeartbeatInterval = durationOrDefault(getenv("HEARTBEAT_INTERVAL_SECONDS"), 30*time.Second, &errs, "HEARTBEAT_INTERVAL_SECONDS")
	cfg.PairCodeTTL = durationOrDefault(getenv("PAIR_CODE_TTL_SECONDS"), 5*time.Minute, &errs, "PAIR_CODE_TTL_SECONDS")
	cfg.RoomIdleTimeout = durationOrDefault(getenv("ROOM_IDLE_TIMEOUT_SECONDS"), 24*time.Hour, &errs, "ROOM_IDLE_TIMEOUT_SECONDS")

	cfg.RateLimitAPIPublic = orDefault(getenv("RATE_LIMIT_API_PUBLIC"), "100-M")
	cfg.RateLimitWSIP = orDefault(getenv("RATE_LIMIT_WS_IP"), "100-M")

	cfg.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidated(cfg)
	return cfg, nil
}

func durationOrDefault(raw string, def time.Duration, errs *[]string, name string) time.Duration {
	if raw == "" {
		return def
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer number of seconds (got %q)", name, raw))
		return def
	}
	return time.Duration(seconds) * time.Second
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func logValidated(cfg *Config) {
	logging.Info(nil, "hub configuration validated",
		zap.String("port", cfg.Port),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("heartbeat_interval", cfg.HeartbeatInterval),
		zap.Duration("pair_code_ttl", cfg.PairCodeTTL),
		zap.Duration("room_idle_timeout", cfg.RoomIdleTimeout),
	)
}
