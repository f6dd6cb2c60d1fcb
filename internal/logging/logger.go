// Package logging sets up the zerolog logger shared by the results service.
//
// Components receive a zerolog.Logger at construction and add their own
// fields (component, cycle_id, event_id). The minimum level is process wide
// so it can be flipped at runtime from the dev endpoint.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level to output (debug, info, warn, error)
	Level string

	// Format is the output format (json, console)
	Format string

	// Output defaults to stderr
	Output io.Writer
}

// New creates a logger from the configuration and sets the global level
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	SetLevel(ParseLevel(cfg.Level))

	// The logger itself accepts everything; the global level does the filtering
	return zerolog.New(out).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Str("service", "results-service").
		Logger()
}

// ParseLevel parses a level name, falling back to info
func ParseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// CurrentLevel returns the active global level
func CurrentLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}

// SetLevel changes the global level
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ToggleDebug switches between debug and info and returns the new level
func ToggleDebug() zerolog.Level {
	next := zerolog.DebugLevel
	if CurrentLevel() <= zerolog.DebugLevel {
		next = zerolog.InfoLevel
	}
	SetLevel(next)
	return next
}

type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns a disabled logger
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return zerolog.Nop()
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}
