package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so callers can use either the wrapper or the embedded logger.
type Logger struct {
	zerolog.Logger

	// file is set when the logger owns an opened log file.
	file *os.File
}

// Options controls where and how log lines are written.
type Options struct {
	Level  string
	Pretty bool
	// Output is one of stdout, stderr or file.
	Output string
	File   string
}

// New returns a logger writing to stdout at the given level.
func New(level string, pretty bool) *Logger {
	l, _ := NewWithOptions(Options{Level: level, Pretty: pretty, Output: "stdout"})
	return l
}

// NewWithOptions builds a logger from the full set of options.
// The returned logger is always usable; a non-nil error reports a fallback (bad level or unopenable file).
func NewWithOptions(opts Options) (*Logger, error) {
	var fallbackErr error

	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		fallbackErr = err
	}

	var (
		out  io.Writer = os.Stdout
		file *os.File
	)
	switch strings.ToLower(strings.TrimSpace(opts.Output)) {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	case "file":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fallbackErr = fmt.Errorf("open log file %q: %w", opts.File, err)
		} else {
			out, file = f, f
		}
	default:
		fallbackErr = fmt.Errorf("unknown log output %q", opts.Output)
	}

	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()

	return &Logger{Logger: logger, file: file}, fallbackErr
}

// ParseLevel maps a textual level to zerolog. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// Close releases the log file, if any. Child loggers from Module do not own it.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// Module returns a child logger tagged with the module name.
func (l *Logger) Module(name string) *Logger {
	return &Logger{Logger: l.With().Str("module", name).Logger()}
}
