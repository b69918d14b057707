// Package logging builds the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New creates a structured text logger for the given subcommand.
// level is one of "debug", "info", "warn", "error" (default: "info").
// Output goes to stderr so received-file tooling can pipe stdout.
func New(app string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)

	return logger.With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
