package internal

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger returns the process logger. Development gets readable text with
// source locations, everything else JSON. Every record carries the service
// name and env.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: env == "development",
	}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", "chartlens", "env", env)
}

// parseLogLevel accepts the slog level names in any case. Unknown values
// fall back to info.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}
