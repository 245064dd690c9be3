// Package logging builds the charm logger used for diagnostics. It is
// configured from the environment and can write to a file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const envPrefix = "OPDECODE_"

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to a level; anything else is info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(os.Getenv(envPrefix + "LOG_LEVEL")),
	})

	prefix, ok := os.LookupEnv(envPrefix + "LOG_PREFIX")
	if !ok {
		prefix = "opdecode"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// OPDECODE_LOG_LEVEL: debug, info, warn, error (default: info)
// OPDECODE_LOG_PREFIX: prefix for log messages (default: "opdecode")
// OPDECODE_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	if os.Getenv(envPrefix+"LOG_TO_FILE") == "1" {
		name := fmt.Sprintf("opdecode-%s.log", time.Now().Format("20060102-150405"))
		if lc, err := NewFileLogger(name); err == nil {
			return lc
		}
		// fall back to stderr
	}
	return NewLoggerWithWriter(os.Stderr)
}

// NewFileLogger appends to the file at path, creating it if needed.
func NewFileLogger(path string) (*LoggerCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return NewLoggerWithWriter(f), nil
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return ParseLevel(os.Getenv(envPrefix+"LOG_LEVEL")) == log.DebugLevel
}
