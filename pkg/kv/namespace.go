package kv

import (
	"context"
	"strings"
)

// Namespace returns a view of client with every key qualified by prefix on
// the way in and de-qualified on the way out. Lock names are qualified as
// well so that equally named locks of different scopes never collide.
// An empty prefix returns client unchanged.
func Namespace(client Client, prefix string) Client {
	if prefix == "" {
		return client
	}
	return &namespaced{client: client, ns: prefix}
}

type namespaced struct {
	client Client
	ns     string
}

func (n *namespaced) key(key string) string {
	return n.ns + key
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.client.Get(ctx, n.key(key))
}

func (n *namespaced) Put(ctx context.Context, key string, value []byte) error {
	return n.client.Put(ctx, n.key(key), value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.client.Delete(ctx, n.key(key))
}

func (n *namespaced) DeletePrefix(ctx context.Context, prefix string) error {
	return n.client.DeletePrefix(ctx, n.key(prefix))
}

func (n *namespaced) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	return n.client.Scan(ctx, n.key(prefix), func(key string) error {
		// strip the namespace prefix
		return fn(strings.TrimPrefix(key, n.ns))
	})
}

func (n *namespaced) Lock(ctx context.Context, name string) (Unlocker, error) {
	return n.client.Lock(ctx, n.key(name))
}

func (n *namespaced) Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	events, err := n.client.Watch(ctx, n.key(prefix))
	if err != nil {
		return nil, err
	}

	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		for event := range events {
			if event.Err == nil {
				if !strings.HasPrefix(event.Key, n.ns) {
					continue
				}
				event.Key = strings.TrimPrefix(event.Key, n.ns)
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *namespaced) HealthCheck(ctx context.Context) error {
	return n.client.HealthCheck(ctx)
}

// Close closes the underlying client; the view owns the connection it wraps.
func (n *namespaced) Close() error {
	return n.client.Close()
}
