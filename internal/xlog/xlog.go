// Package xlog wraps log/slog behind the small set of helpers every
// subsystem in this module uses for its advisory diagnostics: one-time
// JSON or text handler setup and a component-scoped logger.
package xlog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs a JSON-handler logger at the given level ("debug",
// "info", "warn", "error"; unrecognized values fall back to "info").
// Only the first call takes effect; later calls are no-ops so that
// libraries embedding this module can't clobber a host application's
// logging configuration.
func Setup(level string) {
	once.Do(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(level),
		}))
	})
}

// SetupText installs a human-readable text-handler logger instead of the
// default JSON one. Intended for interactive CLI use (see cmd/shmdiag);
// diagnostics remain machine-parseable JSON by default.
func SetupText(level string) {
	once.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(level),
		}))
	})
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

// Get returns the configured logger, defaulting to an INFO-level JSON
// logger if Setup/SetupText was never called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// For returns a logger scoped to the given component name, the shape
// every subsystem package uses at construction time.
func For(component string) *slog.Logger {
	return Get().With(slog.String("component", component))
}
