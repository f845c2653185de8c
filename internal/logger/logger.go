// Package logger builds the process-wide logging sink.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the logger every subsystem reports through. Debug enables
// debug-level output and a human console format.
func Setup(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if debug {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level)
	}

	return logger
}
