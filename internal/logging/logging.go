// Package logging configures the process-wide slog logger shared by the
// HealthConnect client and relay commands.
package logging

import (
	"log/slog"
	"os"
)

// Init installs the default logger. The level comes from HC_LOG_LEVEL,
// falling back to LOG_LEVEL; consultations default to errors only so the
// TUI stays clean.
func Init() {
	level := slog.LevelError

	l, ok := os.LookupEnv("HC_LOG_LEVEL")
	if !ok {
		l, ok = os.LookupEnv("LOG_LEVEL")
	}
	if ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}
