package logger

import (
	"context"
)

// Logger defines the structured logging contract used by adapters, drivers and the CLI.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the fields attached to ctx
	// through WithFields.
	WithContext(ctx context.Context) Logger
}

type contextKey int

const fieldsKey contextKey = iota

// WithFields attaches key-value pairs to ctx. Loggers derived through
// WithContext include them in every entry.
func WithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	fields := append(append([]any{}, Fields(ctx)...), args...)
	return context.WithValue(ctx, fieldsKey, fields)
}

// Fields extracts the key-value pairs attached to ctx.
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, ok := ctx.Value(fieldsKey).([]any)
	if !ok {
		return nil
	}
	return fields
}

// Nop discards every entry.
type Nop struct{}

// NewNop returns a logger that discards everything.
func NewNop() Logger { return Nop{} }

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any) {}
func (Nop) Warn(string, ...any) {}
func (Nop) Error(string, ...any) {}
func (n Nop) With(...any) Logger { return n }
func (n Nop) WithContext(context.Context) Logger { return n }
