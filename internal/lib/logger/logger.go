// Package logger builds the process logger and carries per-transaction
// logging context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	loggerKey        contextKey = "logger"
)

// Setup returns the logger for env. local logs text, dev and prod log JSON.
// A non-empty level overrides the environment default.
func Setup(env, level string) *slog.Logger {
	return New(os.Stdout, env, level)
}

func New(w io.Writer, env, level string) *slog.Logger {
	lvl := slog.LevelDebug
	if env == EnvProd {
		lvl = slog.LevelInfo
	}
	if level != "" {
		lvl = ParseLevel(level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch env {
	case EnvDev, EnvProd:
		handler = slog.NewJSONHandler(w, opts)
	default:
		opts.AddSource = lvl == slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID adds a correlation id to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID extracts the correlation id from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// L returns the context logger with the correlation id attached.
func L(ctx context.Context) *slog.Logger {
	log := FromContext(ctx)
	if id := CorrelationID(ctx); id != "" {
		return log.With(slog.String("correlation_id", id))
	}
	return log
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
