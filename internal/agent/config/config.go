// Package config validates the Desktop Agent's environment
// configuration at startup, following the same eager-validation
// pattern as internal/hub/config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/logging"
)

// Config holds the Agent's validated environment configuration.
type Config struct {
	HubURL     string
	DeviceID   string
	DeviceName string

	GoEnv    string
	LogLevel string

	CLIBinaryPath      string
	SessionCap         int
	AllowedWorkingDirs []string
	WorkerRestartDelay time.Duration
	HeartbeatInterval  time.Duration
	MetricsAddr        string
	StatePath          string
}

// Load validates required environment variables and applies defaults
// for optional ones, mirroring the hub's config.Load.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.HubURL = getenv("HUB_URL")
	if cfg.HubURL == "" {
		errs = append(errs, "HUB_URL is required (e.g. wss://hub.example.com/ws)")
	}

	cfg.DeviceID = getenv("DEVICE_ID")
	if cfg.DeviceID == "" {
		errs = append(errs, "DEVICE_ID is required")
	}
	cfg.DeviceName = orDefault(getenv("DEVICE_NAME"), "desktop")

	cfg.GoEnv = orDefault(getenv("GO_ENV"), "production")
	cfg.LogLevel = orDefault(getenv("LOG_LEVEL"), "info")

	cfg.CLIBinaryPath = orDefault(getenv("CLI_BINARY_PATH"), defaultCLIBinaryPath())

	cfg.SessionCap = intOrDefault(getenv("SESSION_CAP"), 8, &errs, "SESSION_CAP")

	raw := getenv("ALLOWED_WORKING_DIRS")
	if raw == "" {
		errs = append(errs, "ALLOWED_WORKING_DIRS is required (colon-separated absolute paths)")
	} else {
		for _, dir := range strings.Split(raw, ":") {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				continue
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				errs = append(errs, fmt.Sprintf("ALLOWED_WORKING_DIRS entry %q is not a usable path: %v", dir, err))
				continue
			}
			cfg.AllowedWorkingDirs = append(cfg.AllowedWorkingDirs, filepath.Clean(abs))
		}
	}

	cfg.WorkerRestartDelay = durationOrDefault(getenv("WORKER_RESTART_DELAY_SECONDS"), 3*time.Second, &errs, "WORKER_RESTART_DELAY_SECONDS")
	cfg.HeartbeatInterval = durationOrDefault(getenv("HEARTBEAT_INTERVAL_SECONDS"), 30*time.Second, &errs, "HEARTBEAT_INTERVAL_SECONDS")

	cfg.MetricsAddr = orDefault(getenv("AGENT_METRICS_ADDR"), "127.0.0.1:9101")
	cfg.StatePath = orDefault(getenv("AGENT_STATE_PATH"), defaultStatePath())

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidated(cfg)
	return cfg, nil
}

func defaultCLIBinaryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "claude"
	}
	return filepath.Join(home, ".local", "bin", "claude")
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cliremote-agent.json"
	}
	return filepath.Join(home, ".cliremote-agent.json")
}

func intOrDefault(raw string, def int, errs *[]string, name string) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got %q)", name, raw))
		return def
	}
	return n
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
	logging.Info(nil, "agent configuration validated",
		zap.String("hub_url", cfg.HubURL),
		zap.String("device_id", cfg.DeviceID),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.String("cli_binary_path", cfg.CLIBinaryPath),
		zap.Int("session_cap", cfg.SessionCap),
		zap.Int("allowed_working_dirs", len(cfg.AllowedWorkingDirs)),
		zap.Duration("worker_restart_delay", cfg.WorkerRestartDelay),
	)
}
