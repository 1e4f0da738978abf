// Package memory provides an in-process kv.Client backed by an ordered
// B-tree. It is used by tests and by the CLI's memory backend.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/tidwall/btree"
)

type pair struct {
	key   string
	value []byte
}

// Client implements kv.Client in memory.
type Client struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[pair]
	hub    *kv.Hub
	locks  kv.KeyedMutex
	closed bool
}

// New creates an empty store.
func New() *Client {
	return &Client{
		tree: btree.NewBTreeG(func(a, b pair) bool {
			return a.key < b.key
		}),
		hub: kv.NewHub(),
	}
}

// Get returns a copy of the value at key.
func (c *Client) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errClosed()
	}

	item, ok := c.tree.Get(pair{key: key})
	if !ok {
		return nil, kv.ErrNotFound
	}
	return clone(item.value), nil
}

// Put stores a copy of value at key.
func (c *Client) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	c.tree.Set(pair{key: key, value: clone(value)})
	c.mu.Unlock()

	c.hub.Publish(kv.WatchEvent{Type: kv.EventPut, Key: key, Value: clone(value)})
	return nil
}

// Delete removes key.
func (c *Client) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	_, existed := c.tree.Delete(pair{key: key})
	c.mu.Unlock()

	if existed {
		c.hub.Publish(kv.WatchEvent{Type: kv.EventDelete, Key: key})
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *Client) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	keys := c.collect(prefix)
	events := make([]kv.WatchEvent, 0, len(keys))
	for _, key := range keys {
		c.tree.Delete(pair{key: key})
		events = append(events, kv.WatchEvent{Type: kv.EventDelete, Key: key})
	}
	c.mu.Unlock()

	c.hub.Publish(events...)
	return nil
}

// Scan calls fn for every key starting with prefix in ascending order. The
// key set is captured up front so fn may modify the store.
func (c *Client) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errClosed()
	}
	keys := c.collect(prefix)
	c.mu.RUnlock()

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
	if c.isClosed() {
		return nil, errClosed()
	}
	return c.locks.Lock(ctx, name)
}

// Watch streams changes of keys starting with prefix.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan kv.WatchEvent, error) {
	return c.hub.Subscribe(ctx, prefix)
}

// HealthCheck fails once the client is closed.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.isClosed() {
		return errClosed()
	}
	return nil
}

// Close drops all data and ends every watch.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.tree.Clear()
	c.mu.Unlock()

	c.hub.Close()
	return nil
}

// Len returns the number of stored keys.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// collect must be called with c.mu held.
func (c *Client) collect(prefix string) []string {
	var keys []string
	c.tree.Ascend(pair{key: prefix}, func(item pair) bool {
		if !strings.HasPrefix(item.key, prefix) {
			return false
		}
		keys = append(keys, item.key)
		return true
	})
	return keys
}

func clone(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func errClosed() error {
	return fmt.Errorf("%w: memory store", kv.ErrClosed)
}

var _ kv.Client = (*Client)(nil)
