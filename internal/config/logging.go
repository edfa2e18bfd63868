package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger described by the configuration. A nil
// writer logs to stderr.
func (c LogConfig) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if c.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}
