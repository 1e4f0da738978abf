// Package redis provides a kv.Client backed by Redis. Change notifications
// rely on keyspace events; the client enables them when the server allows
// CONFIG SET.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/observability/logger"
)

const (
	defaultLockPrefix        = "odem:lock"
	defaultOperationTimeout  = 3 * time.Second
	defaultLockTTL           = 10 * time.Second
	defaultLockRetryInterval = 50 * time.Millisecond
	defaultScanCount         = 100

	deleteBatchSize = 500

	// keyspace, generic commands, string commands, expiry
	requiredNotifyFlags = "Kg$x"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// Config holds Redis connection configuration.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration

	// LockPrefix names the lock keys. Scan, DeletePrefix and Watch skip keys
	// starting with it, so records must not share it when the client is
	// used without a scoping prefix.
	LockPrefix string

	LockTTL           time.Duration
	LockRetryInterval time.Duration
	ScanCount         int64
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.LockPrefix) == "" {
		c.LockPrefix = defaultLockPrefix
	}
	c.LockPrefix = strings.TrimRight(c.LockPrefix, ":") + ":"
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.LockTTL < time.Millisecond {
		c.LockTTL = defaultLockTTL
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = defaultLockRetryInterval
	}
	if c.ScanCount <= 0 {
		c.ScanCount = defaultScanCount
	}
}

// Client implements kv.Client on Redis.
type Client struct {
	client *redis.Client
	db     int
	logger logger.Logger
	config Config

	closeOnce sync.Once
	done      chan struct{}
}

// New connects to Redis and verifies the connection.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: redis url is required", kv.ErrInvalidArgument)
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"db", opts.DB,
		"max_conns", opts.PoolSize,
		"operation_timeout", cfg.OperationTimeout,
	)

	return &Client{
		client: client,
		db:     opts.DB,
		logger: log,
		config: cfg,
		done:   make(chan struct{}),
	}, nil
}

// Get returns the value at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Put stores value at key without expiration.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix in batches.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	batch := make([]string, 0, deleteBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
		}
		batch = batch[:0]
		return nil
	}

	err := c.Scan(ctx, prefix, func(key string) error {
		batch = append(batch, key)
		if len(batch) == deleteBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// Scan iterates keys starting with prefix using SCAN MATCH. Each key is
// reported once even if SCAN returns it repeatedly.
func (c *Client) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	seen := make(map[string]struct{})
	iter := c.client.Scan(ctx, 0, escapeGlob(prefix)+"*", c.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if c.isLockKey(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := fn(key); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}
	return nil
}

// Lock acquires a SET NX PX lock, polling until it is free or ctx is done.
// While held, the lock's expiry is extended every LockTTL/3 until Unlock or
// Close. A lock outlives a crashed holder by at most LockTTL.
func (c *Client) Lock(ctx context.Context, name string) (kv.Unlocker, error) {
	key := c.config.LockPrefix + name
	token := randomToken()

	ticker := time.NewTicker(c.config.LockRetryInterval)
	defer ticker.Stop()
	for {
		acquired, err := c.client.SetNX(ctx, key, token, c.config.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go c.keepLock(key, name, token, stop, stopped)

	var once sync.Once
	return kv.UnlockFunc(func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			close(stop)
			<-stopped

			opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
			defer cancel()
			result, err := releaseScript.Run(opCtx, c.client, []string{key}, token).Int64()
			switch {
			case err != nil:
				releaseErr = fmt.Errorf("failed to release lock %s: %w", name, err)
			case result == 0:
				c.logger.Warn("lock expired before release", "lock", name)
			}
		})
		return releaseErr
	}), nil
}

// keepLock extends the expiry of a held lock until stop or Close.
func (c *Client) keepLock(key, name, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.config.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.OperationTimeout)
		result, err := renewScript.Run(ctx, c.client, []string{key}, token, c.config.LockTTL.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			c.logger.Warn("failed to renew lock", "lock", name, "error", err)
		case result == 0:
			c.logger.Warn("lock lost while held", "lock", name)
			return
		}
	}
}

// Watch subscribes to keyspace notifications for keys starting with prefix.
// Writes are reported with the value read right after the notification;
// a key deleted in between is skipped.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan kv.WatchEvent, error) {
	c.enableKeyspaceEvents(ctx)

	channelPrefix := fmt.Sprintf("__keyspace@%d__:", c.db)
	pubsub := c.client.PSubscribe(ctx, channelPrefix+escapeGlob(prefix)+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace events: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		_ = pubsub.Close()
	}()

	out := make(chan kv.WatchEvent)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			key := strings.TrimPrefix(msg.Channel, channelPrefix)
			if c.isLockKey(key) {
				continue
			}

			event := kv.WatchEvent{Key: key}
			switch msg.Payload {
			case "set":
				value, err := c.Get(ctx, key)
				if errors.Is(err, kv.ErrNotFound) {
					continue
				}
				if err != nil {
					event.Key = ""
					event.Err = err
				} else {
					event.Type = kv.EventPut
					event.Value = value
				}
			case "del", "expired", "evicted":
				event.Type = kv.EventDelete
			default:
				continue
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

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close ends all watches and closes the connection pool.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.logger.Info("closing Redis connection")
		if cerr := c.client.Close(); cerr != nil {
			c.logger.Error("failed to close Redis connection", "error", cerr)
			err = fmt.Errorf("failed to close redis connection: %w", cerr)
		}
	})
	return err
}

// enableKeyspaceEvents adds the notification classes Watch needs. Managed
// servers often reject CONFIG; that is logged and otherwise ignored.
func (c *Client) enableKeyspaceEvents(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	current, err := c.client.ConfigGet(opCtx, "notify-keyspace-events").Result()
	if err != nil {
		c.logger.Warn("cannot read notify-keyspace-events", "error", err)
		return
	}
	merged := mergeNotifyFlags(current["notify-keyspace-events"], requiredNotifyFlags)
	if merged == current["notify-keyspace-events"] {
		return
	}
	if err := c.client.ConfigSet(opCtx, "notify-keyspace-events", merged).Err(); err != nil {
		c.logger.Warn("cannot enable keyspace notifications, watch may stay silent", "error", err)
		return
	}
	c.logger.Debug("keyspace notifications enabled", "flags", merged)
}

func (c *Client) isLockKey(key string) bool {
	return strings.HasPrefix(key, c.config.LockPrefix)
}

// mergeNotifyFlags returns current extended by the missing flags of
// required. "A" already implies every class flag.
func mergeNotifyFlags(current, required string) string {
	merged := current
	for _, flag := range required {
		if strings.ContainsRune(merged, flag) {
			continue
		}
		if flag != 'K' && flag != 'E' && strings.ContainsRune(merged, 'A') {
			continue
		}
		merged += string(flag)
	}
	return merged
}

// escapeGlob quotes the characters SCAN MATCH and PSUBSCRIBE treat as
// wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func randomToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}

var _ kv.Client = (*Client)(nil)
