package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default slog handler for the process.
// `verbose` enables debug level logging.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
