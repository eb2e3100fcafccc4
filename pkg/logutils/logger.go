package logutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/logging"
)

// Options controls where and how log output is written.
type Options struct {
	// Level is one of: debug, info, warn, error, fatal.
	Level string
	// File receives JSON logs. Empty writes to stderr.
	File string
	// Console renders human-readable output instead of JSON when writing
	// to stderr. Ignored when File is set.
	Console bool
}

// New returns a logger configured by opts and a closer for any opened file.
// Every logger carries the logging.ContextHook so events logged with a
// context pick up user and request ids.
func New(opts Options) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Logger{}, closer, err
	}

	var writer io.Writer = os.Stderr
	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}

		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		closer = func() { _ = f.Close() }
		writer = f
	case opts.Console:
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	l := zerolog.New(writer).
		Hook(logging.ContextHook{}).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	return l, closer, nil
}
