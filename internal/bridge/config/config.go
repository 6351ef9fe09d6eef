// Package config validates the Bridge's environment configuration at
// startup, following the same eager-validation pattern as
// internal/hub/config and internal/agent/config.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/logging"
)

// Config holds the Bridge's validated environment configuration.
type Config struct {
	Password string

	GoEnv    string
	LogLevel string

	CLIBinaryPath      string
	SessionCap         int
	AllowedWorkingDirs []string
	WorkerRestartDelay time.Duration
}

// Load validates required environment variables and applies defaults
// for optional ones.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Password = getenv("BRIDGE_PASSWORD")
	if cfg.Password == "" {
		errs = append(errs, "BRIDGE_PASSWORD is required")
	}

	cfg.GoEnv = orDefault(getenv("GO_ENV"), "production")
	cfg.LogLevel = orDefault(getenv("LOG_LEVEL"), "info")

	cfg.CLIBinaryPath = orDefault(getenv("CLI_BINARY_PATH"), "claude")
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

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logging.Info(nil, "bridge configuration validated",
		zap.String("go_env", cfg.GoEnv),
		zap.String("cli_binary_path", cfg.CLIBinaryPath),
		zap.Int("session_cap", cfg.SessionCap),
		zap.Int("allowed_working_dirs", len(cfg.AllowedWorkingDirs)),
	)
	return cfg, nil
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
