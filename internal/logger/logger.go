package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	log     = zerolog.Nop()
	logFile *os.File
)

// InitLogging configures the package logger. With an empty path logs go to
// stderr through a console writer, otherwise JSON lines are appended to path.
func InitLogging(debug bool, path string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	var f *os.File
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	log = zerolog.New(out).Level(level).With().Timestamp().Logger()

	return nil
}

// SetOutput redirects logging to w at debug level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	log = zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// Close flushes and closes the log file if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	log = zerolog.Nop()
	if logFile == nil {
		return nil
	}

	err := logFile.Close()
	logFile = nil

	return err
}

// Component returns a structured logger tagged with the component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return log.With().Str("component", name).Logger()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := log
	return &l
}

func Debugf(format string, args ...any) {
	current().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Error().Msgf(format, args...)
}
