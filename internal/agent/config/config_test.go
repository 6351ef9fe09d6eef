package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestLoad_RequiredFieldsMissing(t *testing.T) {
	_, err := Load(fakeEnv(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HUB_URL is required")
	assert.Contains(t, err.Error(), "DEVICE_ID is required")
	assert.Contains(t, err.Error(), "ALLOWED_WORKING_DIRS is required")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		"HUB_URL":              "wss://hub.example.com/ws",
		"DEVICE_ID":            "desktop-1",
		"ALLOWED_WORKING_DIRS": "/tmp",
	}))
	require.NoError(t, err)

	assert.Equal(t, "desktop", cfg.DeviceName)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.SessionCap)
	assert.Equal(t, "127.0.0.1:9101", cfg.MetricsAddr)
	assert.NotEmpty(t, cfg.StatePath)
	assert.NotEmpty(t, cfg.CLIBinaryPath)
}

func TestLoad_AllowedWorkingDirsSplitAndCleaned(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		"HUB_URL":              "wss://hub.example.com/ws",
		"DEVICE_ID":            "desktop-1",
		"ALLOWED_WORKING_DIRS": "/tmp/a:/tmp/b/:",
	}))
	require.NoError(t, err)
	require.Len(t, cfg.AllowedWorkingDirs, 2)
	assert.Equal(t, "/tmp/a", cfg.AllowedWorkingDirs[0])
	assert.Equal(t, "/tmp/b", cfg.AllowedWorkingDirs[1])
}

func TestLoad_InvalidSessionCapFallsBackToDefaultWithError(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{
		"HUB_URL":              "wss://hub.example.com/ws",
		"DEVICE_ID":            "desktop-1",
		"ALLOWED_WORKING_DIRS": "/tmp",
		"SESSION_CAP":          "not-a-number",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_CAP must be a positive integer")
}
