// Package kvtest holds behaviour checks every kv.Client driver must pass.
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/nimburion/odemkv/pkg/kv"
)

// Factory returns a client over an empty keyspace. The suite closes it.
type Factory func(t *testing.T) kv.Client

// RunClientSuite runs the shared driver checks as subtests of t.
func RunClientSuite(t *testing.T, newClient Factory) {
	t.Run("GetPutDelete", func(t *testing.T) { testGetPutDelete(t, newClient(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, newClient(t)) })
	t.Run("DeletePrefix", func(t *testing.T) { testDeletePrefix(t, newClient(t)) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, newClient(t)) })
	t.Run("Lock", func(t *testing.T) { testLock(t, newClient(t)) })
	t.Run("HealthCheck", func(t *testing.T) { testHealthCheck(t, newClient(t)) })
}

// ScanKeys collects the keys below prefix in sorted order.
func ScanKeys(t *testing.T, c kv.Client, prefix string) []string {
	t.Helper()
	var keys []string
	err := c.Scan(context.Background(), prefix, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan %q: %v", prefix, err)
	}
	sort.Strings(keys)
	return keys
}

func testGetPutDelete(t *testing.T, c kv.Client) {
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "suite/missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Put(ctx, "suite/k", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, "suite/k", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := c.Get(ctx, "suite/k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"n":2}` {
		t.Fatalf("get returned %s", got)
	}
	if err := c.Delete(ctx, "suite/k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Delete(ctx, "suite/k"); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
	if _, err := c.Get(ctx, "suite/k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testScanPrefix(t *testing.T, c kv.Client) {
	defer c.Close()
	ctx := context.Background()

	for _, key := range []string{"scan/a", "scan/b/1", "scan/b/2", "scanner", "other/a"} {
		if err := c.Put(ctx, key, []byte("1")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if got, want := ScanKeys(t, c, "scan/"), []string{"scan/a", "scan/b/1", "scan/b/2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}

	stop := errors.New("stop")
	err := c.Scan(ctx, "scan/", func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error to end scan, got %v", err)
	}
}

func testDeletePrefix(t *testing.T, c kv.Client) {
	defer c.Close()
	ctx := context.Background()

	for _, key := range []string{"del/x", "del/x/1", "del/x/1/2", "del/xy", "keep"} {
		if err := c.Put(ctx, key, []byte("1")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := c.DeletePrefix(ctx, "del/x/"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if got, want := ScanKeys(t, c, "del/"), []string{"del/x", "del/xy"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after delete prefix = %v, want %v", got, want)
	}
	if err := c.DeletePrefix(ctx, "nothing-here/"); err != nil {
		t.Fatalf("delete of empty prefix range: %v", err)
	}
}

func testWatch(t *testing.T, c kv.Client) {
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := c.Watch(ctx, "watch/")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	// give remote watches time to register
	time.Sleep(200 * time.Millisecond)

	if err := c.Put(ctx, "unwatched", []byte("0")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, "watch/a", []byte(`"v"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Delete(ctx, "watch/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []kv.WatchEvent{
		{Type: kv.EventPut, Key: "watch/a", Value: []byte(`"v"`)},
		{Type: kv.EventDelete, Key: "watch/a"},
	}
	for i, w := range want {
		select {
		case got, ok := <-events:
			if !ok {
				t.Fatalf("watch channel closed before event %d", i)
			}
			if got.Err != nil {
				t.Fatalf("watch error: %v", got.Err)
			}
			if got.Type != w.Type || got.Key != w.Key {
				t.Fatalf("event %d = %s %s, want %s %s", i, got.Type, got.Key, w.Type, w.Key)
			}
			if w.Type == kv.EventPut && string(got.Value) != string(w.Value) {
				t.Fatalf("event %d value = %s, want %s", i, got.Value, w.Value)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func testLock(t *testing.T, c kv.Client) {
	defer c.Close()
	ctx := context.Background()

	first, err := c.Lock(ctx, "suite/tmpl/%u")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := c.Lock(short, "suite/tmpl/%u"); err == nil {
		t.Fatal("expected a held lock to block until the deadline")
	}

	if got := ScanKeys(t, c, ""); len(got) != 0 {
		t.Fatalf("lock bookkeeping leaked into the keyspace: %v", got)
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	second, err := c.Lock(ctx, "suite/tmpl/%u")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if err := second.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func testHealthCheck(t *testing.T, c kv.Client) {
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
