package odem

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/observability/logger"
	"github.com/nimburion/odemkv/pkg/observability/metrics"
	"github.com/nimburion/odemkv/pkg/observability/tracing"
)

const (
	watchRetryInitial = 100 * time.Millisecond
	watchRetryMax     = 10 * time.Second
)

// KVAdapter persists records in a key-value store reached through kv.Client.
type KVAdapter struct {
	client  kv.Client
	prefix  string
	opts    Options
	options map[string]any
	codec   Codec
	log     logger.Logger

	events    observers
	stopWatch context.CancelFunc
	watchDone chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates an adapter owning client. Keys are scoped below
// NormalizePrefix(opts.Prefix). An empty Prefix, as in a zero Options,
// means no scope at all: the adapter works on the whole keyspace. Start from
// DefaultOptions to get the "hitchy-odem" scope.
//
// The adapter starts watching its scope for remote changes right away and
// re-establishes the watch whenever the store ends it. A failing initial
// watch is logged and leaves the adapter usable without events.
func New(client kv.Client, opts Options, log logger.Logger) (*KVAdapter, error) {
	if client == nil {
		return nil, odemError(ErrInvalidArgument, "kv client is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	opts = opts.normalized()
	a := &KVAdapter{
		client:    kv.Namespace(client, opts.Prefix),
		prefix:    opts.Prefix,
		opts:      opts,
		codec:     opts.Codec,
		log:       log.With("component", "odem."+opts.Backend),
		watchDone: make(chan struct{}),
	}
	a.options = opts.snapshot()
	a.startWatch()

	return a, nil
}

func (a *KVAdapter) startWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel

	events, err := a.client.Watch(ctx, "")
	if err != nil {
		a.log.Error("FATAL: setting up watcher for remote changes failed", "prefix", a.prefix, "error", err)
		close(a.watchDone)
		return
	}

	a.log.Debug("watching remote changes", "prefix", a.prefix)
	go a.watch(ctx, events)
}

// watch delivers remote events until ctx is done, reopening the store watch
// each time it ends.
func (a *KVAdapter) watch(ctx context.Context, events <-chan kv.WatchEvent) {
	defer close(a.watchDone)

	attempt := 0
	for {
		if a.consume(events) > 0 {
			attempt = 0
		}
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("disconnected from store", "prefix", a.prefix)

		for events = nil; events == nil; {
			attempt++
			timer := time.NewTimer(watchBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			ch, err := a.client.Watch(ctx, "")
			if err != nil {
				a.log.Error("re-establishing watch for remote changes failed", "attempt", attempt, "error", err)
				continue
			}
			events = ch
		}
		a.log.Info("connected with store", "prefix", a.prefix)
	}
}

// consume handles events until the channel closes and returns how many it
// received.
func (a *KVAdapter) consume(events <-chan kv.WatchEvent) int {
	received := 0
	for event := range events {
		received++
		if event.Err != nil {
			a.log.Error("store watch error", "error", event.Err)
			continue
		}

		switch event.Type {
		case kv.EventPut:
			var value any
			if err := a.codec.Unmarshal(event.Value, &value); err != nil {
				a.log.Error("got change notification with invalid data", "key", event.Key, "error", err)
				value = nil
			}
			a.log.Debug("got remote change notification", "key", event.Key)
			metrics.RecordRemoteEvent(EventChange.String())
			a.events.publish(Event{Type: EventChange, Key: event.Key, Value: value, Raw: event.Value})
		case kv.EventDelete:
			a.log.Debug("got remote removal notification", "key", event.Key)
			metrics.RecordRemoteEvent(EventDelete.String())
			a.events.publish(Event{Type: EventDelete, Key: event.Key})
		}
	}
	return received
}

// watchBackoff doubles watchRetryInitial per attempt up to watchRetryMax.
func watchBackoff(attempt int) time.Duration {
	backoff := watchRetryInitial
	for idx := 1; idx < attempt; idx++ {
		if backoff >= watchRetryMax/2 {
			return watchRetryMax
		}
		backoff *= 2
	}
	return backoff
}

// instrument starts a span for operation and returns a func finishing it
// together with the operation metrics. Finishing with kv.ErrNotFound counts
// as a not_found result without failing the span.
func (a *KVAdapter) instrument(ctx context.Context, operation, key string) (context.Context, func(error) error) {
	start := time.Now()
	opts := []tracing.StoreSpanOption{
		tracing.WithStoreSystem(a.opts.Backend),
		tracing.WithStorePrefix(a.prefix),
	}
	if key != "" {
		opts = append(opts, tracing.WithStoreKey(key))
	}
	ctx, span := tracing.StartStoreSpan(ctx, operation, opts...)

	return ctx, func(err error) error {
		metrics.RecordOperation(operation, err, time.Since(start))
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
		return err
	}
}

func (a *KVAdapter) checkOpen() error {
	if a.closed.Load() {
		return ErrClosed
	}
	return nil
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return odemError(ErrInvalidArgument, "key is required")
	}
	return nil
}

// Purge removes every record of the adapter's scope.
func (a *KVAdapter) Purge(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	ctx, finish := a.instrument(ctx, "purge", "")

	a.log.Debug("purging entries", "prefix", a.prefix)
	if err := a.client.DeletePrefix(ctx, ""); err != nil {
		return finish(fmt.Errorf("failed to purge entries: %w", err))
	}
	return finish(nil)
}

// Create stores data under a fresh key derived from keyTemplate while holding
// the store lock named after the template. It gives up with
// ErrCreateExhausted after MaxCreateAttempts taken keys.
func (a *KVAdapter) Create(ctx context.Context, keyTemplate string, data any) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	if !strings.Contains(keyTemplate, UUIDPlaceholder) {
		return "", odemError(ErrInvalidArgument, fmt.Sprintf("key template %q lacks %s", keyTemplate, UUIDPlaceholder))
	}
	ctx, finish := a.instrument(ctx, "create", keyTemplate)

	payload, err := a.codec.Marshal(data)
	if err != nil {
		return "", finish(fmt.Errorf("failed to encode entry for %s: %w", keyTemplate, err))
	}

	lock, err := a.client.Lock(ctx, keyTemplate)
	if err != nil {
		return "", finish(fmt.Errorf("failed to lock %s: %w", keyTemplate, err))
	}
	defer func() {
		if unlockErr := lock.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			a.log.Warn("failed to release create lock", "template", keyTemplate, "error", unlockErr)
		}
	}()

	for attempt := 1; attempt <= a.opts.MaxCreateAttempts; attempt++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", finish(fmt.Errorf("failed to generate UUID: %w", err))
		}
		key := resolveTemplate(keyTemplate, id.String())

		_, err = a.client.Get(ctx, key)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, kv.ErrNotFound):
			return "", finish(fmt.Errorf("failed to check %s: %w", key, err))
		}

		a.log.Debug("creating entry", "key", key, "bytes", len(payload))
		if err := a.client.Put(ctx, key, payload); err != nil {
			return "", finish(fmt.Errorf("failed to create entry at %s: %w", key, err))
		}
		metrics.ObserveCreateAttempts(attempt)
		return key, finish(nil)
	}

	metrics.ObserveCreateAttempts(a.opts.MaxCreateAttempts)
	return "", finish(ErrCreateExhausted)
}

// Has reports whether key holds a record. Absence is not an error.
func (a *KVAdapter) Has(ctx context.Context, key string) (bool, error) {
	if err := a.checkOpen(); err != nil {
		return false, err
	}
	if err := validKey(key); err != nil {
		return false, err
	}
	ctx, finish := a.instrument(ctx, "has", key)

	_, err := a.client.Get(ctx, key)
	switch {
	case err == nil:
		return true, finish(nil)
	case errors.Is(err, kv.ErrNotFound):
		finish(err)
		return false, nil
	default:
		a.log.Debug("testing key failed", "key", key, "error", err)
		return false, finish(fmt.Errorf("failed to test %s: %w", key, err))
	}
}

// Read returns the decoded record at key or opts.IfMissing when there is none.
func (a *KVAdapter) Read(ctx context.Context, key string, opts ReadOptions) (any, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := validKey(key); err != nil {
		return nil, err
	}
	ctx, finish := a.instrument(ctx, "read", key)

	a.log.Debug("fetching entry", "key", key)
	raw, err := a.client.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		finish(err)
		return opts.IfMissing, nil
	}
	if err != nil {
		return nil, finish(fmt.Errorf("failed to fetch entry at %s: %w", key, err))
	}

	var value any
	if err := a.codec.Unmarshal(raw, &value); err != nil {
		return nil, finish(fmt.Errorf("failed to decode entry at %s: %w", key, err))
	}
	return value, finish(nil)
}

// Write upserts data at key.
func (a *KVAdapter) Write(ctx context.Context, key string, data any) (any, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := validKey(key); err != nil {
		return nil, err
	}
	ctx, finish := a.instrument(ctx, "write", key)

	payload, err := a.codec.Marshal(data)
	if err != nil {
		return nil, finish(fmt.Errorf("failed to encode entry at %s: %w", key, err))
	}

	a.log.Debug("updating entry", "key", key, "bytes", len(payload))
	if err := a.client.Put(ctx, key, payload); err != nil {
		return nil, finish(fmt.Errorf("failed to update entry at %s: %w", key, err))
	}
	return data, finish(nil)
}

// Remove deletes key together with every key below key + "/".
func (a *KVAdapter) Remove(ctx context.Context, key string) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	if err := validKey(key); err != nil {
		return "", err
	}
	ctx, finish := a.instrument(ctx, "remove", key)

	a.log.Debug("removing entry", "key", key)
	if err := a.client.Delete(ctx, key); err != nil {
		return "", finish(fmt.Errorf("failed to remove entry at %s: %w", key, err))
	}
	if err := a.client.DeletePrefix(ctx, strings.TrimRight(key, "/")+"/"); err != nil {
		return "", finish(fmt.Errorf("failed to remove entries below %s: %w", key, err))
	}
	return key, finish(nil)
}

// KeyStream lists the distinct keys below opts.Prefix, each truncated to
// opts.MaxDepth segments and reported as prefix + "/" + key.
func (a *KVAdapter) KeyStream(ctx context.Context, opts KeyStreamOptions) *KeyStream {
	if err := a.checkOpen(); err != nil {
		return newKeyStream(ctx, 1, func(context.Context, func(string) error) error {
			return err
		})
	}

	prefix := trimPrefix(opts.Prefix)
	separator := opts.Separator
	if separator == "" {
		separator = DefaultSeparator
	}
	scope := a.client
	if prefix != "" {
		scope = kv.Namespace(a.client, prefix+"/")
	}

	if prefix == "" {
		a.log.Debug("streaming keys", "from", "<root>")
	} else {
		a.log.Debug("streaming keys", "from", prefix)
	}

	ctx, finish := a.instrument(ctx, "keyStream", prefix)
	return newKeyStream(ctx, a.opts.HighWaterMark, func(ctx context.Context, emit func(string) error) error {
		seen := make(map[string]struct{})
		raw := 0

		err := scope.Scan(ctx, "", func(key string) error {
			raw++
			key = prefix + "/" + truncateKey(key, separator, opts.MaxDepth)
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
			return emit(key)
		})

		a.log.Debug("streamed keys", "raw", raw, "unique", len(seen))
		if err != nil {
			return finish(fmt.Errorf("failed to stream keys: %w", err))
		}
		return finish(nil)
	})
}

// KeyToPath maps key to the path addressing the record in the store.
func (a *KVAdapter) KeyToPath(key string) string { return key }

// PathToKey reverses KeyToPath.
func (a *KVAdapter) PathToKey(path string) string { return path }

// Begin always fails: key-value stores are used without transactions.
func (a *KVAdapter) Begin(context.Context) error {
	return ErrTransactionsUnsupported
}

// RollBack always fails as there is never a running transaction.
func (a *KVAdapter) RollBack(context.Context) error {
	return errNoRollBack
}

// Commit always fails as there is never a running transaction.
func (a *KVAdapter) Commit(context.Context) error {
	return errNoCommit
}

// SupportsBinary returns false; records are stored as encoded documents.
func (a *KVAdapter) SupportsBinary() bool { return false }

// Subscribe registers handler for remote change events. Handlers run on the
// adapter's watch goroutine in registration order.
func (a *KVAdapter) Subscribe(handler func(Event)) Subscription {
	return a.events.subscribe(handler)
}

// Options returns a snapshot of the adapter's options with credentials
// redacted.
func (a *KVAdapter) Options() map[string]any {
	return maps.Clone(a.options)
}

// Prefix returns the normalized scope prefix.
func (a *KVAdapter) Prefix() string { return a.prefix }

// HealthCheck verifies the store is reachable.
func (a *KVAdapter) HealthCheck(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

// Close stops the watch and closes the store connection.
func (a *KVAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.stopWatch()
		<-a.watchDone
		err = a.client.Close()
		a.log.Info("record adapter closed", "prefix", a.prefix)
	})
	return err
}
