package testutil

import (
	"io"
	"log/slog"
	"os"
)

// NopLogger returns a logger that discards all output.
// Use this in tests to avoid log noise.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// DebugLogger returns a text logger on stderr when PVG_TEST_LOG is set,
// otherwise a no-op logger
func DebugLogger() *slog.Logger {
	if os.Getenv("PVG_TEST_LOG") == "" {
		return NopLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
