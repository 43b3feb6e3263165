// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing JSON lines to stdout, or human-readable
// lines when format is "console". An unknown level means info.
func New(level, format string) zerolog.Logger {
	return NewWriter(os.Stdout, level, format)
}

func NewWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "graphdesk-api").Logger()
}
