// Package logger builds the zerolog loggers used across addonhook.
//
// Output goes to a console writer on stderr and, when a file path is
// configured, to a size-rotated log file.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a logger.
type Options struct {
	// Level is the minimum level written. Empty means "info".
	Level string

	// Console is where human-readable output goes. Nil means os.Stderr.
	Console io.Writer

	// NoColor disables ANSI colors on the console writer.
	NoColor bool

	// Quiet suppresses console output entirely. File output is unaffected.
	Quiet bool

	// File is the path of the rotated log file. Empty disables file output.
	File string

	// MaxSizeMB is the size at which the file is rotated. Defaults to 50.
	MaxSizeMB int

	// MaxAgeDays is how long rotated files are kept. Defaults to 7.
	MaxAgeDays int

	// MaxBackups is how many rotated files are kept. Defaults to 3.
	MaxBackups int
}

func (o Options) maxSizeMB() int {
	if o.MaxSizeMB <= 0 {
		return 50
	}
	return o.MaxSizeMB
}

func (o Options) maxAgeDays() int {
	if o.MaxAgeDays <= 0 {
		return 7
	}
	return o.MaxAgeDays
}

func (o Options) maxBackups() int {
	if o.MaxBackups <= 0 {
		return 3
	}
	return o.MaxBackups
}

// ErrInvalidLevel is returned for an unrecognized level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. Matching is case-insensitive and "warning"
// is accepted for "warn". An empty string is "info".
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return lvl, nil
}

// Logger is a configured zerolog logger together with the file writer it owns.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New builds a logger from opts.
func New(opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if !opts.Quiet {
		out := opts.Console
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		})
	}

	var file *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.maxSizeMB(),
			MaxAge:     opts.maxAgeDays(),
			MaxBackups: opts.maxBackups(),
			LocalTime:  true,
			Compress:   true,
		}
		writers = append(writers, file)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return &Logger{
		Logger: zerolog.New(out).Level(lvl).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
