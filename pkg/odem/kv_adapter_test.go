package odem_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/kv/memory"
	"github.com/nimburion/odemkv/pkg/observability/metrics"
	"github.com/nimburion/odemkv/pkg/observability/logger"
	"github.com/nimburion/odemkv/pkg/odem"
	"github.com/nimburion/odemkv/pkg/testutil"
)

// shared keeps the wrapped store open when an adapter closes it.
type shared struct{ kv.Client }

func (shared) Close() error { return nil }

// faulty overrides selected operations of a store.
type faulty struct {
	kv.Client
	get   func(ctx context.Context, key string) ([]byte, error)
	scan  error
	watch error

	// drops is the number of watches that end right after being opened.
	drops atomic.Int32
}

func (f *faulty) Get(ctx context.Context, key string) ([]byte, error) {
	if f.get != nil {
		return f.get(ctx, key)
	}
	return f.Client.Get(ctx, key)
}

func (f *faulty) Scan(ctx context.Context, prefix string, fn func(string) error) error {
	if f.scan != nil {
		return f.scan
	}
	return f.Client.Scan(ctx, prefix, fn)
}

func (f *faulty) Watch(ctx context.Context, prefix string) (<-chan kv.WatchEvent, error) {
	if f.watch != nil {
		return nil, f.watch
	}
	if f.drops.Add(-1) >= 0 {
		ended := make(chan kv.WatchEvent)
		close(ended)
		return ended, nil
	}
	return f.Client.Watch(ctx, prefix)
}

func newAdapter(t *testing.T, store kv.Client, opts odem.Options) *odem.KVAdapter {
	t.Helper()
	adapter, err := odem.New(store, opts, logger.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func collect(t *testing.T, adapter odem.Adapter, opts odem.KeyStreamOptions) []string {
	t.Helper()
	keys, err := odem.CollectKeys(adapter.KeyStream(context.Background(), opts))
	if err != nil {
		t.Fatalf("key stream failed: %v", err)
	}
	return keys
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := odem.New(nil, odem.DefaultOptions(), nil); !errors.Is(err, odem.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAdapter_DefaultPrefix(t *testing.T) {
	store := memory.New()
	adapter := newAdapter(t, shared{store}, odem.DefaultOptions())
	ctx := context.Background()

	if adapter.Prefix() != "hitchy-odem/" {
		t.Fatalf("unexpected prefix %q", adapter.Prefix())
	}
	if _, err := adapter.Write(ctx, "users/1", map[string]any{"name": "Jane"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := store.Get(ctx, "hitchy-odem/users/1"); err != nil {
		t.Fatalf("expected key to be prefix-qualified in store: %v", err)
	}
}

func TestAdapter_ZeroOptionsAreUnscoped(t *testing.T) {
	store := memory.New()
	adapter := newAdapter(t, shared{store}, odem.Options{})
	ctx := context.Background()

	if adapter.Prefix() != "" {
		t.Fatalf("zero options must not scope keys, got prefix %q", adapter.Prefix())
	}
	if _, err := adapter.Write(ctx, "users/1", 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := store.Get(ctx, "users/1"); err != nil {
		t.Fatalf("expected key at the store root: %v", err)
	}
}

func TestAdapter_WriteReadHas(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()

	record := map[string]any{"name": "Jane", "age": float64(42), "tags": []any{"a", "b"}}
	written, err := adapter.Write(ctx, "users/1", record)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !reflect.DeepEqual(written, record) {
		t.Fatalf("Write must return the data it stored, got %v", written)
	}

	got, err := adapter.Read(ctx, "users/1", odem.ReadOptions{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(got, record) {
		t.Fatalf("expected %v, got %v", record, got)
	}

	ok, err := adapter.Has(ctx, "users/1")
	if err != nil || !ok {
		t.Fatalf("expected Has=true, got %v (%v)", ok, err)
	}
	ok, err = adapter.Has(ctx, "users/2")
	if err != nil || ok {
		t.Fatalf("expected Has=false without error, got %v (%v)", ok, err)
	}
}

func TestAdapter_ReadIfMissing(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()

	got, err := adapter.Read(ctx, "missing", odem.ReadOptions{})
	if err != nil || got != nil {
		t.Fatalf("expected nil without error, got %v (%v)", got, err)
	}

	fallback := map[string]any{"default": true}
	got, err = adapter.Read(ctx, "missing", odem.ReadOptions{IfMissing: fallback})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(got, fallback) {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestAdapter_ReadUndecodable(t *testing.T) {
	store := memory.New()
	adapter := newAdapter(t, shared{store}, odem.Options{Prefix: "app"})
	ctx := context.Background()

	if err := store.Put(ctx, "app/broken", []byte("{not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := adapter.Read(ctx, "broken", odem.ReadOptions{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAdapter_WriteUnencodable(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})

	if _, err := adapter.Write(context.Background(), "k", map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestAdapter_HasBackendFailure(t *testing.T) {
	boom := errors.New("connection refused")
	store := &faulty{Client: memory.New(), get: func(context.Context, string) ([]byte, error) {
		return nil, boom
	}}
	adapter := newAdapter(t, store, odem.Options{Prefix: "app"})

	ok, err := adapter.Has(context.Background(), "k")
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected false with backend error, got %v (%v)", ok, err)
	}
}

func TestAdapter_InvalidKeys(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()

	if _, err := adapter.Read(ctx, " ", odem.ReadOptions{}); !errors.Is(err, odem.ErrInvalidArgument) {
		t.Fatalf("Read: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := adapter.Write(ctx, "", 1); !errors.Is(err, odem.ErrInvalidArgument) {
		t.Fatalf("Write: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := adapter.Remove(ctx, ""); !errors.Is(err, odem.ErrInvalidArgument) {
		t.Fatalf("Remove: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := adapter.Create(ctx, "users/fixed", 1); !errors.Is(err, odem.ErrInvalidArgument) {
		t.Fatalf("Create: expected ErrInvalidArgument, got %v", err)
	}
}

func TestAdapter_Create(t *testing.T) {
	store := memory.New()
	adapter := newAdapter(t, shared{store}, odem.Options{Prefix: "app"})
	ctx := context.Background()

	key, err := adapter.Create(ctx, "users/%u", map[string]any{"name": "Jane"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id, ok := strings.CutPrefix(key, "users/")
	if !ok {
		t.Fatalf("key %q does not follow template", key)
	}
	if parsed, err := uuid.Parse(id); err != nil || parsed.Version() != 4 {
		t.Fatalf("expected UUID v4 in key, got %q (%v)", id, err)
	}

	raw, err := store.Get(ctx, "app/"+key)
	if err != nil {
		t.Fatalf("created record missing in store: %v", err)
	}
	if string(raw) != `{"name":"Jane"}` {
		t.Fatalf("unexpected stored payload %s", raw)
	}
}

func TestAdapter_CreateExhausted(t *testing.T) {
	var gets atomic.Int32
	store := &faulty{Client: memory.New(), get: func(context.Context, string) ([]byte, error) {
		gets.Add(1)
		return []byte(`{}`), nil
	}}
	opts := odem.DefaultOptions()
	opts.MaxCreateAttempts = 3
	adapter := newAdapter(t, store, opts)

	_, err := adapter.Create(context.Background(), "users/%u", 1)
	if !errors.Is(err, odem.ErrCreateExhausted) {
		t.Fatalf("expected ErrCreateExhausted, got %v", err)
	}
	if err.Error() != "could not find available UUID after reasonable number of attempts" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if gets.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", gets.Load())
	}
}

func TestAdapter_CreateConcurrentKeysAreDistinct(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()

	const workers = 16
	keys := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := adapter.Create(ctx, "items/%u", map[string]any{"n": i})
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			keys <- key
		}(i)
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for key := range keys {
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d keys, got %d", workers, len(seen))
	}
	if got := collect(t, adapter, odem.KeyStreamOptions{Prefix: "items"}); len(got) != workers {
		t.Fatalf("expected %d stored records, got %v", workers, got)
	}
}

func TestAdapter_RemoveNested(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()

	for _, key := range []string{"a", "a/b", "a/b/c", "ab"} {
		if _, err := adapter.Write(ctx, key, key); err != nil {
			t.Fatalf("Write %s failed: %v", key, err)
		}
	}

	removed, err := adapter.Remove(ctx, "a")
	if err != nil || removed != "a" {
		t.Fatalf("Remove returned %q (%v)", removed, err)
	}

	got := collect(t, adapter, odem.KeyStreamOptions{})
	if !reflect.DeepEqual(got, []string{"/ab"}) {
		t.Fatalf("expected only /ab to survive, got %v", got)
	}

	if _, err := adapter.Remove(ctx, "never-written"); err != nil {
		t.Fatalf("removing a missing key must succeed: %v", err)
	}
}

func TestAdapter_PurgeIsScoped(t *testing.T) {
	store := memory.New()
	first := newAdapter(t, shared{store}, odem.Options{Prefix: "first"})
	second := newAdapter(t, shared{store}, odem.Options{Prefix: "second"})
	ctx := context.Background()

	for _, adapter := range []*odem.KVAdapter{first, second} {
		if _, err := adapter.Write(ctx, "k", 1); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if err := first.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if err := first.Purge(ctx); err != nil {
		t.Fatalf("Purge of an empty scope failed: %v", err)
	}

	if ok, _ := first.Has(ctx, "k"); ok {
		t.Fatal("purged record still present")
	}
	if ok, _ := second.Has(ctx, "k"); !ok {
		t.Fatal("purge leaked into another scope")
	}
}

func TestAdapter_KeyStream(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.Options{Prefix: "app"})
	ctx := context.Background()
	for _, key := range []string{"a/1", "a/2", "b/1", "b/2/x"} {
		if _, err := adapter.Write(ctx, key, true); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	tests := []struct {
		name string
		opts odem.KeyStreamOptions
		want []string
	}{
		{name: "all keys", opts: odem.KeyStreamOptions{}, want: []string{"/a/1", "/a/2", "/b/1", "/b/2/x"}},
		{name: "depth one", opts: odem.KeyStreamOptions{MaxDepth: 1}, want: []string{"/a", "/b"}},
		{name: "depth two", opts: odem.KeyStreamOptions{MaxDepth: 2}, want: []string{"/a/1", "/a/2", "/b/1", "/b/2"}},
		{name: "prefix", opts: odem.KeyStreamOptions{Prefix: " b// "}, want: []string{"b/1", "b/2/x"}},
		{name: "prefix and depth", opts: odem.KeyStreamOptions{Prefix: "b", MaxDepth: 1}, want: []string{"b/1", "b/2"}},
		{name: "unknown prefix", opts: odem.KeyStreamOptions{Prefix: "c"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := collect(t, adapter, tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAdapter_KeyStreamBackpressureAndEarlyClose(t *testing.T) {
	opts := odem.Options{Prefix: "app", HighWaterMark: 2}
	adapter := newAdapter(t, memory.New(), opts)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, err := adapter.Write(ctx, fmt.Sprintf("k/%02d", i), i); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	stream := adapter.KeyStream(ctx, odem.KeyStreamOptions{})
	for i := 0; i < 3; i++ {
		if !stream.Next() {
			t.Fatalf("stream ended early: %v", stream.Err())
		}
	}
	if stream.Key() != "/k/02" {
		t.Fatalf("unexpected key %q", stream.Key())
	}

	done := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a paused producer")
	}
	if stream.Err() != nil {
		t.Fatalf("closing early must not fail the stream: %v", stream.Err())
	}
	if stream.Next() {
		t.Fatal("closed stream must not yield keys")
	}
}

func TestAdapter_KeyStreamError(t *testing.T) {
	boom := errors.New("scan failed")
	adapter := newAdapter(t, &faulty{Client: memory.New(), scan: boom}, odem.Options{Prefix: "app"})

	_, err := odem.CollectKeys(adapter.KeyStream(context.Background(), odem.KeyStreamOptions{}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestAdapter_Transactions(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.DefaultOptions())
	ctx := context.Background()

	tests := []struct {
		name string
		call func(context.Context) error
		want string
	}{
		{name: "begin", call: adapter.Begin, want: "missing transaction support"},
		{name: "rollback", call: adapter.RollBack, want: "There is no running transaction to be rolled back."},
		{name: "commit", call: adapter.Commit, want: "There is no running transaction to be committed."},
	}
	for _, tt := range tests {
		err := tt.call(ctx)
		if !errors.Is(err, odem.ErrTransactionsUnsupported) {
			t.Fatalf("%s: expected ErrTransactionsUnsupported, got %v", tt.name, err)
		}
		if err.Error() != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.want, err.Error())
		}
	}
}

func TestAdapter_StaticBehaviour(t *testing.T) {
	adapter := newAdapter(t, memory.New(), odem.DefaultOptions())

	if adapter.SupportsBinary() {
		t.Fatal("binary records must not be supported")
	}
	if adapter.KeyToPath("a/b") != "a/b" || adapter.PathToKey("a/b") != "a/b" {
		t.Fatal("key and path must map onto each other unchanged")
	}
}

func TestAdapter_Options(t *testing.T) {
	opts := odem.DefaultOptions()
	opts.Backend = "etcd"
	opts.Client = map[string]any{"hosts": []string{"127.0.0.1:2379"}}
	opts.Credentials = map[string]string{"password": "secret"}
	adapter := newAdapter(t, memory.New(), opts)

	snapshot := adapter.Options()
	if snapshot["credentials"] != "provided, but hidden" {
		t.Fatalf("credentials leaked: %v", snapshot["credentials"])
	}
	if snapshot["prefix"] != "hitchy-odem/" || snapshot["backend"] != "etcd" {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}

	snapshot["prefix"] = "mutated"
	if adapter.Options()["prefix"] != "hitchy-odem/" {
		t.Fatal("snapshot must be a copy")
	}
}

func waitEvent(t *testing.T, events <-chan odem.Event) odem.Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return odem.Event{}
	}
}

func TestAdapter_RemoteEvents(t *testing.T) {
	store := memory.New()
	log := testutil.NewMockLogger()
	adapter, err := odem.New(shared{store}, odem.Options{Prefix: "app"}, log)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer adapter.Close()

	events := make(chan odem.Event, 8)
	sub := adapter.Subscribe(func(event odem.Event) { events <- event })
	defer sub.Close()
	ctx := context.Background()

	if err := store.Put(ctx, "other/x", []byte(`1`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "app/users/1", []byte(`{"name":"Jane"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	event := waitEvent(t, events)
	if event.Type != odem.EventChange || event.Key != "users/1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !reflect.DeepEqual(event.Value, map[string]any{"name": "Jane"}) {
		t.Fatalf("unexpected value %v", event.Value)
	}

	if err := store.Put(ctx, "app/users/2", []byte(`garbage`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	event = waitEvent(t, events)
	if event.Key != "users/2" || event.Value != nil || string(event.Raw) != "garbage" {
		t.Fatalf("malformed payload must be delivered without value, got %+v", event)
	}
	if !log.Contains("error", "invalid data") {
		t.Fatal("expected malformed payload to be logged")
	}

	if _, err := adapter.Remove(ctx, "users/1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	event = waitEvent(t, events)
	if event.Type != odem.EventDelete || event.Key != "users/1" || event.Value != nil {
		t.Fatalf("unexpected event %+v", event)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if _, err := adapter.Write(ctx, "users/3", 3); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case event := <-events:
		t.Fatalf("closed subscription received %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapter_WatchSetupFailure(t *testing.T) {
	log := testutil.NewMockLogger()
	store := &faulty{Client: memory.New(), watch: errors.New("watch unavailable")}

	adapter, err := odem.New(store, odem.Options{Prefix: "app"}, log)
	if err != nil {
		t.Fatalf("watch failures must not fail construction: %v", err)
	}
	defer adapter.Close()

	if !log.Contains("error", "FATAL") {
		t.Fatal("expected FATAL log entry")
	}

	ctx := context.Background()
	if _, err := adapter.Write(ctx, "k", "v"); err != nil {
		t.Fatalf("adapter must stay usable: %v", err)
	}
	if got, err := adapter.Read(ctx, "k", odem.ReadOptions{}); err != nil || got != "v" {
		t.Fatalf("unexpected read %v (%v)", got, err)
	}
}

func TestAdapter_WatchReconnects(t *testing.T) {
	log := testutil.NewMockLogger()
	store := &faulty{Client: memory.New()}
	store.drops.Store(1)

	adapter, err := odem.New(store, odem.Options{Prefix: "app"}, log)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer adapter.Close()

	events := make(chan odem.Event, 8)
	defer adapter.Subscribe(func(event odem.Event) { events <- event }).Close()

	deadline := time.Now().Add(3 * time.Second)
	for !log.Contains("info", "connected with store") {
		if time.Now().After(deadline) {
			t.Fatal("watch was not re-established")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !log.Contains("warn", "disconnected from store") {
		t.Fatal("expected disconnect to be logged")
	}

	if err := store.Put(context.Background(), "app/users/1", []byte(`1`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	event := waitEvent(t, events)
	if event.Type != odem.EventChange || event.Key != "users/1" {
		t.Fatalf("unexpected event after reconnect %+v", event)
	}
}

func TestAdapter_AbsenceIsNotAFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	adapter := newAdapter(t, memory.New(), odem.DefaultOptions())
	ctx := context.Background()

	if ok, err := adapter.Has(ctx, "missing"); ok || err != nil {
		t.Fatalf("Has = %v, %v", ok, err)
	}
	if got, err := adapter.Read(ctx, "missing", odem.ReadOptions{IfMissing: "fallback"}); got != "fallback" || err != nil {
		t.Fatalf("Read = %v, %v", got, err)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, span := range spans {
		if span.Status().Code == codes.Error {
			t.Fatalf("span %s marked as failed for a missing key", span.Name())
		}
	}
	rec := httptest.NewRecorder()
	metrics.NewRegistry().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, op := range []string{"has", "read"} {
		if want := `operation="` + op + `",result="not_found"`; !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("expected %s in metrics", want)
		}
	}
}

func TestAdapter_Closed(t *testing.T) {
	adapter, err := odem.New(memory.New(), odem.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := adapter.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := adapter.Write(ctx, "k", 1); !errors.Is(err, odem.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := adapter.HealthCheck(ctx); !errors.Is(err, odem.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := odem.CollectKeys(adapter.KeyStream(ctx, odem.KeyStreamOptions{})); !errors.Is(err, odem.ErrClosed) {
		t.Fatalf("expected ErrClosed from stream, got %v", err)
	}
}

func TestAdapter_Properties(t *testing.T) {
	store := memory.New()
	adapter := newAdapter(t, shared{store}, odem.Options{Prefix: "prop"})
	ctx := context.Background()

	properties := gopter.NewProperties(nil)
	genKey := gen.RegexMatch(`[a-z]{1,6}(/[a-z0-9]{1,6}){0,2}`)

	properties.Property("written values read back unchanged", prop.ForAll(
		func(key, value string, n int) bool {
			record := map[string]any{"s": value, "n": float64(n)}
			if _, err := adapter.Write(ctx, key, record); err != nil {
				return false
			}
			got, err := adapter.Read(ctx, key, odem.ReadOptions{})
			return err == nil && reflect.DeepEqual(got, record)
		},
		genKey, gen.AlphaString(), gen.IntRange(-1000, 1000),
	))

	properties.Property("keys are qualified by the adapter prefix in the store", prop.ForAll(
		func(key string) bool {
			if _, err := adapter.Write(ctx, key, true); err != nil {
				return false
			}
			_, err := store.Get(ctx, "prop/"+key)
			return err == nil
		},
		genKey,
	))

	properties.Property("streamed keys are unique", prop.ForAll(
		func(depth int) bool {
			keys, err := odem.CollectKeys(adapter.KeyStream(ctx, odem.KeyStreamOptions{MaxDepth: depth}))
			if err != nil {
				return false
			}
			seen := map[string]bool{}
			for _, key := range keys {
				if seen[key] || !strings.HasPrefix(key, "/") {
					return false
				}
				seen[key] = true
			}
			return true
		},
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
