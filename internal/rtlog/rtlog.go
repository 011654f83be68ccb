// Package rtlog is the runtime's structured logging sink: a thin wrapper
// over github.com/rs/zerolog so collector and merge code gets one
// process-wide logger without every package constructing its own.
package rtlog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// SetOutput redirects the package logger's sink. Tests use this to
// capture log output into a buffer instead of stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level emitted. Until a caller (rtconfig)
// sets it, the logger has no level of its own and emits whatever
// zerolog's global level lets through, debug included.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(lvl)
}

func get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug returns a debug-level event, for hook install/invoke traces and
// other detail too fine-grained for routine operation.
func Debug() *zerolog.Event { l := get(); return l.Debug() }

// Info returns an info-level event, for one line per collection pass and
// one per generation merge.
func Info() *zerolog.Event { l := get(); return l.Info() }

// Warn returns a warn-level event.
func Warn() *zerolog.Event { l := get(); return l.Warn() }
