package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nimburion/odemkv/pkg/observability/logger"
)

// ErrInvalidConfig classifies validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// RedactedValue replaces secrets in printed configuration.
const RedactedValue = "provided, but hidden"

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch c.Store.Backend {
	case BackendEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			invalid("store.etcd.endpoints is required for the etcd backend")
		}
		if c.Store.Etcd.Password != "" && c.Store.Etcd.Username == "" {
			invalid("store.etcd.username is required when a password is set")
		}
		if c.Store.Etcd.LockTTL != 0 && c.Store.Etcd.LockTTL.Seconds() < 1 {
			invalid("store.etcd.lock_ttl must be at least 1s")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Store.Redis.URL) == "" {
			invalid("store.redis.url is required for the redis backend")
		}
		if c.Store.Redis.LockTTL < 0 || c.Store.Redis.LockRetryInterval < 0 {
			invalid("store.redis lock durations must not be negative")
		}
	case BackendBolt:
		if strings.TrimSpace(c.Store.Bolt.Path) == "" {
			invalid("store.bolt.path is required for the bolt backend")
		}
	case BackendMemory:
	default:
		invalid("store.backend must be one of %s, %s, %s, %s, got %q",
			BackendEtcd, BackendRedis, BackendBolt, BackendMemory, c.Store.Backend)
	}

	if c.Store.MaxCreateAttempts < 1 {
		invalid("store.max_create_attempts must be > 0")
	}

	if _, err := logger.ParseLogLevel(c.Observability.LogLevel); err != nil {
		invalid("observability.log_level: %v", err)
	}
	if _, err := logger.ParseLogFormat(c.Observability.LogFormat); err != nil {
		invalid("observability.log_format: %v", err)
	}
	if c.Observability.Metrics.Enabled && strings.TrimSpace(c.Observability.Metrics.Address) == "" {
		invalid("observability.metrics.address is required when metrics are enabled")
	}
	if c.Observability.Tracing.Enabled {
		if strings.TrimSpace(c.Observability.Tracing.Endpoint) == "" {
			invalid("observability.tracing.endpoint is required when tracing is enabled")
		}
		if rate := c.Observability.Tracing.SampleRate; rate < 0 || rate > 1 {
			invalid("observability.tracing.sample_rate must be within [0, 1], got %g", rate)
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy of the configuration with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Store.Etcd.Endpoints = append([]string(nil), c.Store.Etcd.Endpoints...)
	if out.Store.Etcd.Password != "" {
		out.Store.Etcd.Password = RedactedValue
	}
	out.Store.Redis.URL = redactURL(c.Store.Redis.URL)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
