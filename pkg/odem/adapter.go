// Package odem implements the record storage adapter of the object-document
// mapper on top of a key-value store.
package odem

import "context"

// ReadOptions customizes Read.
type ReadOptions struct {
	// IfMissing is returned instead of an error when the key holds no record.
	IfMissing any
}

// Adapter is the storage contract the mapping layer persists records through.
type Adapter interface {
	// Purge removes every record in the adapter's scope.
	Purge(ctx context.Context) error

	// Create stores data under a new key derived from keyTemplate by
	// replacing every "%u" with a fresh UUID. Existing records are never
	// overwritten.
	Create(ctx context.Context, keyTemplate string, data any) (string, error)

	// Has reports whether key holds a record.
	Has(ctx context.Context, key string) (bool, error)

	// Read returns the decoded record at key.
	Read(ctx context.Context, key string, opts ReadOptions) (any, error)

	// Write upserts data at key and returns data.
	Write(ctx context.Context, key string, data any) (any, error)

	// Remove deletes key and every key nested below it and returns key.
	Remove(ctx context.Context, key string) (string, error)

	// KeyStream lists the keys of the scope.
	KeyStream(ctx context.Context, opts KeyStreamOptions) *KeyStream

	KeyToPath(key string) string
	PathToKey(path string) string

	Begin(ctx context.Context) error
	RollBack(ctx context.Context) error
	Commit(ctx context.Context) error

	// SupportsBinary reports whether records may carry raw binary data.
	SupportsBinary() bool

	// Subscribe registers handler for remote change events.
	Subscribe(handler func(Event)) Subscription

	// Options returns a redacted snapshot of the adapter's options.
	Options() map[string]any

	// Prefix returns the normalized scope prefix.
	Prefix() string

	HealthCheck(ctx context.Context) error
	Close() error
}

var _ Adapter = (*KVAdapter)(nil)
