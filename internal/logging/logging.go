// Package logging builds the zerolog logger mixproxy components share.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string

	// File, if set, receives JSON lines through a rotating writer instead
	// of the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel maps the names trace, debug, info, warn (or warning) and error
// to zerolog levels.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger and the writer it owns. Close the writer on exit to
// flush a log file.
func New(o Options) (zerolog.Logger, io.WriteCloser, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var w io.WriteCloser
	if o.File != "" {
		w = &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		}
	} else {
		w = nopCloser{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	}

	return NewWithWriter(w, level), w, nil
}

// NewWithWriter returns a timestamped logger writing to w at level.
func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
