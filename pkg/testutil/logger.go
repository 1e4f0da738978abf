package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/nimburion/odemkv/pkg/observability/logger"
)

// LogEntry is a message captured by MockLogger.
type LogEntry struct {
	Level   string
	Message string
	Args    []any
}

// MockLogger records log calls for assertions. Children created by With
// share the parent's record.
type MockLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  []any
}

// NewMockLogger creates an empty recording logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

func (m *MockLogger) record(level, msg string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append(append([]any{}, m.fields...), args...)
	*m.entries = append(*m.entries, LogEntry{Level: level, Message: msg, Args: all})
}

func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

func (m *MockLogger) With(args ...any) logger.Logger {
	return &MockLogger{
		mu:      m.mu,
		entries: m.entries,
		fields:  append(append([]any{}, m.fields...), args...),
	}
}

func (m *MockLogger) WithContext(ctx context.Context) logger.Logger {
	if fields := logger.Fields(ctx); len(fields) > 0 {
		return m.With(fields...)
	}
	return m
}

// Entries returns a snapshot of everything logged so far.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), *m.entries...)
}

// Contains reports whether a message at level contains substr.
func (m *MockLogger) Contains(level, substr string) bool {
	for _, entry := range m.Entries() {
		if entry.Level == level && strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}
