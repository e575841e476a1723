// Package logger configures the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Set VOUCH_LOG_LEVEL=debug
// for verbose output.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("VOUCH_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
