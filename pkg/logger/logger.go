// Package logger wraps zerolog behind the component+fields call shape used
// throughout this codebase: logger.InfoCF("router", "dispatched", map[string]any{...}).
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	Init(os.Stderr, zerolog.InfoLevel)
}

// Init (re)configures the package-level logger. Called once at process
// start from cmd/gateway; tests may call it again to redirect output.
func Init(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// DebugCF logs at debug level with a component tag and structured fields.
func DebugCF(component, msg string, fields map[string]any) { emit(zerolog.DebugLevel, component, msg, fields) }

// InfoCF logs at info level with a component tag and structured fields.
func InfoCF(component, msg string, fields map[string]any) { emit(zerolog.InfoLevel, component, msg, fields) }

// WarnCF logs at warn level with a component tag and structured fields.
func WarnCF(component, msg string, fields map[string]any) { emit(zerolog.WarnLevel, component, msg, fields) }

// ErrorCF logs at error level with a component tag and structured fields.
func ErrorCF(component, msg string, fields map[string]any) { emit(zerolog.ErrorLevel, component, msg, fields) }

func emit(level zerolog.Level, component, msg string, fields map[string]any) {
	ev := current().WithLevel(level).Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
