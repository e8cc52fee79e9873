package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Logger = zerolog.Logger

type Options struct {
	Level  string
	Pretty bool
	Debug  bool
}

// New configures the global zerolog logger and returns it. An unknown level
// falls back to info; Debug forces debug level.
func New(opts Options) Logger {
	return newWithWriter(opts, os.Stderr)
}

func newWithWriter(opts Options, w io.Writer) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	l := zerolog.New(w).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = l
	return l
}
