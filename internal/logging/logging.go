// Package logging builds the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New creates a logger at the given level. Pretty enables the console
// writer for interactive use; otherwise output is JSON lines on stderr.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
