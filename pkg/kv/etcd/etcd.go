// Package etcd provides a kv.Client backed by an etcd v3 cluster.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/observability/logger"
)

const (
	// LockPrefix holds the mutex keys. Scan, DeletePrefix and Watch never
	// report or touch keys below it.
	LockPrefix = "__odem_locks/"

	defaultDialTimeout      = 5 * time.Second
	defaultOperationTimeout = 5 * time.Second
	defaultLockTTL          = 10 * time.Second
	defaultPageSize         = 256

	watchRetryInitial = 100 * time.Millisecond
	watchRetryMax     = 5 * time.Second

	// range end addressing every key from the start key onwards
	endOfKeyspace = "\x00"
)

// Config holds etcd connection configuration.
type Config struct {
	Endpoints        []string
	Username         string
	Password         string
	DialTimeout      time.Duration
	OperationTimeout time.Duration
	LockTTL          time.Duration
	PageSize         int64
}

func (c *Config) normalize() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.LockTTL < time.Second {
		c.LockTTL = defaultLockTTL
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
}

// Client implements kv.Client on etcd.
type Client struct {
	cli    *clientv3.Client
	logger logger.Logger
	config Config
}

// New connects to the cluster and verifies at least one endpoint answers.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: etcd endpoints are required", kv.ErrInvalidArgument)
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.normalize()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Logger:      zapLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	c := &Client{cli: cli, logger: log, config: cfg}
	if err := c.HealthCheck(context.Background()); err != nil {
		_ = cli.Close()
		return nil, err
	}

	log.Info("etcd connection established",
		"endpoints", cfg.Endpoints,
		"operation_timeout", cfg.OperationTimeout,
	)
	return c, nil
}

// NewFromClient wraps an existing clientv3 client. Closing the returned
// client closes cli.
func NewFromClient(cli *clientv3.Client, cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	cfg.normalize()
	return &Client{cli: cli, logger: log, config: cfg}
}

// Get returns the value at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	resp, err := c.cli.Get(opCtx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, kv.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put stores value at key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	if _, err := c.cli.Put(opCtx, key, string(value)); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	if _, err := c.cli.Delete(opCtx, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix, leaving held locks
// in place.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	for _, r := range recordRanges(prefix) {
		if _, err := c.cli.Delete(opCtx, r.from, clientv3.WithRange(r.end)); err != nil {
			return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// Scan pages through keys starting with prefix at a single revision.
func (c *Client) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	from, end := prefixRange(prefix)
	var rev int64

	for {
		opts := []clientv3.OpOption{
			clientv3.WithRange(end),
			clientv3.WithKeysOnly(),
			clientv3.WithLimit(c.config.PageSize),
		}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev))
		}

		opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
		resp, err := c.cli.Get(opCtx, from, opts...)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
		}
		if rev == 0 {
			rev = resp.Header.Revision
		}

		for _, item := range resp.Kvs {
			key := string(item.Key)
			if isLockKey(key) {
				continue
			}
			if err := fn(key); err != nil {
				return err
			}
		}

		if !resp.More || len(resp.Kvs) == 0 {
			return nil
		}
		from = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}
}

// Lock acquires a cluster-wide mutex backed by a leased session. The lease
// is granted within ctx and kept alive until Unlock; it expires after LockTTL
// if this process dies while holding the lock.
func (c *Client) Lock(ctx context.Context, name string) (kv.Unlocker, error) {
	lease, err := c.cli.Grant(ctx, int64(c.config.LockTTL/time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to grant lock lease: %w", err)
	}

	// keep-alive outlives ctx, session.Close ends it
	session, err := concurrency.NewSession(c.cli,
		concurrency.WithLease(lease.ID),
		concurrency.WithContext(context.WithoutCancel(ctx)),
	)
	if err != nil {
		c.revoke(lease.ID)
		return nil, fmt.Errorf("failed to open lock session: %w", err)
	}

	mutex := concurrency.NewMutex(session, LockPrefix+name)
	if err := mutex.Lock(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	var once sync.Once
	return kv.UnlockFunc(func(ctx context.Context) error {
		var unlockErr error
		once.Do(func() {
			opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
			defer cancel()
			unlockErr = mutex.Unlock(opCtx)
			if err := session.Close(); err != nil {
				unlockErr = errors.Join(unlockErr, err)
			}
		})
		if unlockErr != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, unlockErr)
		}
		return nil
	}), nil
}

func (c *Client) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OperationTimeout)
	defer cancel()
	if _, err := c.cli.Revoke(ctx, id); err != nil {
		c.logger.Warn("failed to revoke lock lease", "lease", int64(id), "error", err)
	}
}

// Watch streams changes of keys starting with prefix until ctx is done or
// the connection is closed. A watch cancelled by the cluster, e.g. on leader
// loss, is reopened at the revision following the last delivered one.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan kv.WatchEvent, error) {
	from, end := prefixRange(prefix)

	out := make(chan kv.WatchEvent)
	go func() {
		defer close(out)

		var next int64
		for attempt := 0; ; attempt++ {
			opts := []clientv3.OpOption{clientv3.WithRange(end)}
			if next > 0 {
				opts = append(opts, clientv3.WithRev(next))
			}
			watchCh := c.cli.Watch(clientv3.WithRequireLeader(ctx), from, opts...)

			rev, ok := c.forward(ctx, out, watchCh, next)
			if !ok {
				return
			}
			if rev > next {
				next = rev
				attempt = 0
			}
			if ctx.Err() != nil || c.cli.Ctx().Err() != nil {
				return
			}

			c.logger.Warn("etcd watch interrupted, reopening", "prefix", prefix, "revision", next)
			timer := time.NewTimer(retryDelay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return out, nil
}

// forward converts responses of watchCh until it closes or is cancelled. It
// returns the revision to resume from, starting at next, and false once out
// can no longer be written.
func (c *Client) forward(ctx context.Context, out chan<- kv.WatchEvent, watchCh clientv3.WatchChan, next int64) (int64, bool) {
	for resp := range watchCh {
		if err := resp.Err(); err != nil {
			if resp.CompactRevision > next {
				next = resp.CompactRevision
			}
			if !send(ctx, out, kv.WatchEvent{Err: err}) {
				return next, false
			}
			if resp.Canceled {
				return next, true
			}
			continue
		}

		switch {
		case len(resp.Events) > 0:
			next = resp.Events[len(resp.Events)-1].Kv.ModRevision + 1
		case resp.IsProgressNotify() || (resp.Created && next == 0):
			next = max(next, resp.Header.Revision+1)
		}

		for _, ev := range resp.Events {
			key := string(ev.Kv.Key)
			if isLockKey(key) {
				continue
			}
			event := kv.WatchEvent{Key: key}
			switch ev.Type {
			case mvccpb.PUT:
				event.Type = kv.EventPut
				event.Value = ev.Kv.Value
			case mvccpb.DELETE:
				event.Type = kv.EventDelete
			default:
				continue
			}
			if !send(ctx, out, event) {
				return next, false
			}
		}
	}
	return next, true
}

func retryDelay(attempt int) time.Duration {
	delay := watchRetryInitial
	for idx := 0; idx < attempt; idx++ {
		if delay >= watchRetryMax/2 {
			return watchRetryMax
		}
		delay *= 2
	}
	return delay
}

// HealthCheck queries the status of the first reachable endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	var errs []error
	for _, endpoint := range c.cli.Endpoints() {
		if _, err := c.cli.Status(ctx, endpoint); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	err := errors.Join(errs...)
	c.logger.Error("etcd health check failed", "error", err)
	return fmt.Errorf("etcd health check failed: %w", err)
}

// Close closes the connection, ending all watches.
func (c *Client) Close() error {
	c.logger.Info("closing etcd connection")
	if err := c.cli.Close(); err != nil {
		c.logger.Error("failed to close etcd connection", "error", err)
		return fmt.Errorf("failed to close etcd connection: %w", err)
	}
	return nil
}

type keyRange struct {
	from string
	end  string
}

func prefixRange(prefix string) (string, string) {
	if prefix == "" {
		return endOfKeyspace, endOfKeyspace
	}
	return prefix, clientv3.GetPrefixRangeEnd(prefix)
}

// recordRanges splits the range of prefix around the lock namespace.
func recordRanges(prefix string) []keyRange {
	from, end := prefixRange(prefix)
	if !strings.HasPrefix(LockPrefix, prefix) || strings.HasPrefix(prefix, LockPrefix) {
		return []keyRange{{from: from, end: end}}
	}
	return []keyRange{
		{from: from, end: LockPrefix},
		{from: clientv3.GetPrefixRangeEnd(LockPrefix), end: end},
	}
}

func isLockKey(key string) bool {
	return strings.HasPrefix(key, LockPrefix)
}

func send(ctx context.Context, out chan<- kv.WatchEvent, event kv.WatchEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func zapLogger(log logger.Logger) *zap.Logger {
	if z, ok := log.(interface{ Zap() *zap.Logger }); ok {
		return z.Zap().Named("etcd-client")
	}
	return zap.NewNop()
}

var _ kv.Client = (*Client)(nil)
