package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"opdecode/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	current     *logging.LoggerCloser
)

// Setup installs the charm logger as the slog default. Later calls are
// no-ops. An unusable logFile falls back to stderr with a warning.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		var lc *logging.LoggerCloser
		var fileErr error
		if logFile != "" {
			lc, fileErr = logging.NewFileLogger(logFile)
		}
		if lc == nil {
			lc = logging.NewLogger()
		}
		if debug {
			lc.SetLevel(charmlog.DebugLevel)
			lc.SetReportCaller(true)
		}

		current = lc
		slog.SetDefault(slog.New(lc.Logger))
		initialized.Store(true)

		if fileErr != nil {
			slog.Warn("logging to stderr", "error", fileErr)
		}
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Close flushes and closes a file-backed logger.
func Close() error {
	if current == nil {
		return nil
	}
	return current.Close()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
