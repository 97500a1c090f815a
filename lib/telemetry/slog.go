package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide slog handler. Debug mode turns on
// the per-request logging in the transport layers.
func InitSlog(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
