// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger with the given level and format.
// Format "pretty" writes a human-readable console stream for development;
// anything else produces JSON suitable for log aggregation.
func New(level, format string) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "teliq-gateway").
		Logger()
}
