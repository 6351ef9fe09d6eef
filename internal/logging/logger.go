// Package logging provides a process-wide structured logger shared by
// the hub, agent, and bridge binaries. It mirrors the teacher
// codebase's zap-based logging package: a lazily-initialized global
// logger, context-scoped correlation fields, and a redaction helper
// for pairing codes that end up in log lines.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	// DeviceIDKey tags log lines with the Hub connection's device id.
	DeviceIDKey contextKey = "device_id"
	// RoomIDKey tags log lines with the Hub room a frame belongs to.
	RoomIDKey contextKey = "room_id"
	// SessionIDKey tags log lines with the desktop session a frame targets.
	SessionIDKey contextKey = "session_id"
)

// Initialize sets up the global logger. Safe to call more than once;
// only the first call takes effect.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger
// if Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Info logs at InfoLevel with any context fields attached.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs at WarnLevel with any context fields attached.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs at ErrorLevel with any context fields attached.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, appendContextFields(ctx, fields)...)
}

// Debug logs at DebugLevel with any context fields attached.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, appendContextFields(ctx, fields)...)
}

// WithDeviceID returns a child context tagging subsequent log calls
// with a device id.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DeviceIDKey, id)
}

// WithRoomID returns a child context tagging subsequent log calls
// with a room id.
func WithRoomID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RoomIDKey, id)
}

// WithSessionID returns a child context tagging subsequent log calls
// with a session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if v, ok := ctx.Value(DeviceIDKey).(string); ok {
		fields = append(fields, zap.String("device_id", v))
	}
	if v, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", v))
	}
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		fields = append(fields, zap.String("session_id", v))
	}
	return fields
}

// RedactCode masks a pairing code to its first 4 characters for logs,
// mirroring the teacher's RedactSecret helper for JWT/Redis secrets.
func RedactCode(code string) string {
	if len(code) <= 4 {
		return "***"
	}
	return code[:4] + "***"
}
