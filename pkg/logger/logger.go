// Package logger configures the structured logger used across the control
// plane. It wraps zerolog so every component gets a consistent, leveled,
// component-tagged logger instead of reaching for the global one.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger.
type Config struct {
	// Level is one of "trace", "debug", "info", "warn" (or "warning"),
	// "error" (case-insensitive). Unknown values fall back to "info".
	Level string
	// Pretty switches from JSON output to a human-readable console writer.
	Pretty bool
}

// New builds the root logger. Every component should derive its own logger
// from it via log.With().Str("component", "...").Logger() rather than
// constructing a fresh one.
func New(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var writer = os.Stderr
	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
