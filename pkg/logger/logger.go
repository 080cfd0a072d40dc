// Package logger builds the process-wide zerolog.Logger from configuration.
// Every component receives its logger via constructor injection; nothing in
// this module reaches for a package-level global.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the logger's verbosity and rendering.
type Config struct {
	Level  string
	Pretty bool
}

// New builds a zerolog.Logger from cfg. Pretty mode renders a human-readable
// console stream for local development; otherwise output is newline-delimited
// JSON suitable for a log-aggregation sink.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	var w zerolog.ConsoleWriter
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
		return zerolog.New(w).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Caller().Logger()
}
