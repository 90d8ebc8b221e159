// Package telemetry sets up the process-wide zerolog logger, the way
// cuemby-warren's pkg/log does it: one package-level logger built once at
// startup, with per-subsystem child loggers carrying a "component" field.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Config controls the process-wide logger's format and verbosity.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// Empty defaults to "info".
	Level string
	// JSON selects structured JSON output; false gives a human console
	// writer, useful for local `synapd serve` runs.
	JSON bool
}

// logger is the process-wide base logger; Init replaces it, Component
// derives child loggers from it.
var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the package-level logger. Call once at process startup,
// before any Component loggers are taken.
func Init(cfg Config) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	var w io.Writer = os.Stdout
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged for one subsystem (e.g. "wal",
// "engine", "replication", "queue"), matching cuemby-warren's
// `.With().Str("component", …)` convention.
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Base returns the process-wide logger without a component tag, for
// top-level startup/shutdown lines in cmd/synapd.
func Base() zerolog.Logger {
	return logger
}
