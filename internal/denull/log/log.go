package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	logPath     atomic.Value
)

// Setup installs the default slog logger. When logFile is non-empty the
// log goes there, otherwise to stderr.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		out := os.Stderr
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err == nil {
				out = f
				logPath.Store(logFile)
			}
			// Fall back to stderr when the file cannot be opened.
		}

		logger := slog.NewTextHandler(out, &slog.HandlerOptions{
			Level:     level,
			AddSource: debug,
		})

		slog.SetDefault(slog.New(logger))
		initialized.Store(true)
	})
}

func Initialized() bool {
	return initialized.Load()
}

// Path returns the active log file, empty when logging to stderr.
func Path() string {
	if p, ok := logPath.Load().(string); ok {
		return p
	}
	return ""
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
