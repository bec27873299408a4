// Package observability defines shared logging and metric primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a standard library logger to the Logger interface.
type StdLogger struct {
	out   *log.Logger
	debug bool
}

// NewStdLogger wraps the supplied logger. Debug lines are suppressed unless
// debug is true.
func NewStdLogger(out *log.Logger, debug bool) *StdLogger {
	return &StdLogger{out: out, debug: debug}
}

// Debug writes a debug line when debug logging is enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l == nil || l.out == nil || !l.debug {
		return
	}
	l.out.Printf("DEBUG %s%s", msg, renderFields(fields))
}

// Info writes an informational line.
func (l *StdLogger) Info(msg string, fields ...Field) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Printf("INFO %s%s", msg, renderFields(fields))
}

// Error writes an error line.
func (l *StdLogger) Error(msg string, fields ...Field) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Printf("ERROR %s%s", msg, renderFields(fields))
}

func renderFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
