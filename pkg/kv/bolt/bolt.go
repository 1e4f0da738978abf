// Package bolt provides a kv.Client over a single bbolt bucket. Locks and
// change notifications are process-local; the file is opened exclusively.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/observability/logger"
)

const (
	defaultBucket      = "odem"
	defaultOpenTimeout = 5 * time.Second
)

// Config holds bbolt file settings.
type Config struct {
	Path        string
	Bucket      string
	OpenTimeout time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Bucket) == "" {
		c.Bucket = defaultBucket
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
}

// Client implements kv.Client on a bbolt database file.
type Client struct {
	db     *bbolt.DB
	bucket []byte
	hub    *kv.Hub
	locks  kv.KeyedMutex
	logger logger.Logger
	closed atomic.Bool
}

// New opens (or creates) the database file and its bucket.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: bolt path is required", kv.ErrInvalidArgument)
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.normalize()

	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", cfg.Path, err)
	}

	bucket := []byte(cfg.Bucket)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bolt bucket %s: %w", cfg.Bucket, err)
	}

	log.Info("bolt database opened", "path", cfg.Path, "bucket", cfg.Bucket)

	return &Client{
		db:     db,
		bucket: bucket,
		hub:    kv.NewHub(),
		logger: log,
	}, nil
}

// Get returns a copy of the value at key.
func (c *Client) Get(_ context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, errClosed()
	}

	var result []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(c.bucket).Get([]byte(key))
		if data == nil {
			return kv.ErrNotFound
		}
		// only valid within the transaction
		result = bytes.Clone(data)
		return nil
	})
	return result, err
}

// Put stores value at key.
func (c *Client) Put(_ context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return errClosed()
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", kv.ErrInvalidArgument)
	}
	if value == nil {
		value = []byte{}
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	c.hub.Publish(kv.WatchEvent{Type: kv.EventPut, Key: key, Value: bytes.Clone(value)})
	return nil
}

// Delete removes key.
func (c *Client) Delete(_ context.Context, key string) error {
	if c.closed.Load() {
		return errClosed()
	}

	existed := false
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b.Get([]byte(key)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	if existed {
		c.hub.Publish(kv.WatchEvent{Type: kv.EventDelete, Key: key})
	}
	return nil
}

// DeletePrefix removes every key starting with prefix in one transaction.
func (c *Client) DeletePrefix(_ context.Context, prefix string) error {
	if c.closed.Load() {
		return errClosed()
	}

	var removed []string
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		removed = keysWithPrefix(b.Cursor(), prefix)
		for _, key := range removed {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}

	events := make([]kv.WatchEvent, 0, len(removed))
	for _, key := range removed {
		events = append(events, kv.WatchEvent{Type: kv.EventDelete, Key: key})
	}
	c.hub.Publish(events...)
	return nil
}

// Scan calls fn for every key starting with prefix in byte order. Keys are
// read in one transaction and fn runs outside of it.
func (c *Client) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	if c.closed.Load() {
		return errClosed()
	}

	var keys []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		keys = keysWithPrefix(tx.Bucket(c.bucket).Cursor(), prefix)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Lock acquires a process-local named lock.
func (c *Client) Lock(ctx context.Context, name string) (kv.Unlocker, error) {
	if c.closed.Load() {
		return nil, errClosed()
	}
	return c.locks.Lock(ctx, name)
}

// Watch streams changes committed through this client.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan kv.WatchEvent, error) {
	return c.hub.Subscribe(ctx, prefix)
}

// HealthCheck runs an empty read transaction.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.closed.Load() {
		return errClosed()
	}
	if err := c.db.View(func(*bbolt.Tx) error { return nil }); err != nil {
		c.logger.Error("bolt health check failed", "error", err)
		return fmt.Errorf("bolt health check failed: %w", err)
	}
	return nil
}

// Close ends all watches and closes the database file.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.hub.Close()

	if err := c.db.Close(); err != nil {
		c.logger.Error("failed to close bolt database", "error", err)
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	c.logger.Info("bolt database closed")
	return nil
}

func keysWithPrefix(cursor *bbolt.Cursor, prefix string) []string {
	var keys []string
	p := []byte(prefix)
	for k, _ := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cursor.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

func errClosed() error {
	return fmt.Errorf("%w: bolt store", kv.ErrClosed)
}

var _ kv.Client = (*Client)(nil)
