// Package kv defines the minimal key-value client contract the record adapter
// is written against, plus helpers shared by the bundled drivers.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a key that holds no value.
	ErrNotFound = errors.New("kv key not found")
	// ErrClosed classifies operations on a closed client.
	ErrClosed = errors.New("kv client closed")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("kv invalid argument")
)

func kvError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// EventType tells upserts from deletions on a change feed.
type EventType int

const (
	// EventPut is emitted for every write of a key.
	EventPut EventType = iota + 1
	// EventDelete is emitted for every removal of a key.
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WatchEvent is a single change observed on a store. Err is set for
// transport errors reported by the store; such events carry no key.
type WatchEvent struct {
	Type  EventType
	Key   string
	Value []byte
	Err   error
}

// Unlocker releases a lock obtained through Client.Lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// UnlockFunc adapts a function to Unlocker.
type UnlockFunc func(ctx context.Context) error

// Unlock calls f(ctx).
func (f UnlockFunc) Unlock(ctx context.Context) error { return f(ctx) }

// Client is the contract every backing store driver satisfies.
// Implementations must be safe for concurrent use.
type Client interface {
	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put upserts value at key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix. An empty prefix
	// addresses every key visible to the client.
	DeletePrefix(ctx context.Context, prefix string) error

	// Scan calls fn for every key starting with prefix. Scanning stops at the
	// first error returned by fn, which is returned as is.
	Scan(ctx context.Context, prefix string, fn func(key string) error) error

	// Lock blocks until the named mutex is held or ctx is done.
	Lock(ctx context.Context, name string) (Unlocker, error)

	// Watch streams changes of keys starting with prefix until ctx is done
	// or the client is closed. The channel is closed afterwards.
	Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
