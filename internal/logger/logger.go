// Package logger provides structured logging built on zerolog.
// It sets up a JSON (or console) logger with service-level context and
// propagates a refresh run ID through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// Init creates and returns a structured logger for the given service.
// format "console" selects the human-readable writer, anything else is JSON.
// The logger also replaces zerolog's global log.Logger.
func Init(service, level, format string) zerolog.Logger {
	return InitWriter(os.Stdout, service, level, format)
}

// InitWriter is Init with an explicit output, used by tests.
func InitWriter(out io.Writer, service, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = logger
	return logger
}

// Component derives a sub-logger tagged with a component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithRunID stores a refresh run ID in the context for downstream propagation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the run ID from context. Returns "" if not set.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// Ctx returns base enriched with the run ID carried by ctx, if any.
// Usage: logger.Ctx(ctx, l).Info().Msg("...")
func Ctx(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	l := base
	if rid := RunID(ctx); rid != "" {
		l = base.With().Str("run_id", rid).Logger()
	}
	return &l
}
