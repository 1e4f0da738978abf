// Package factory builds the configured kv.Client.
package factory

import (
	"fmt"
	"strings"

	"github.com/nimburion/odemkv/pkg/config"
	"github.com/nimburion/odemkv/pkg/kv"
	"github.com/nimburion/odemkv/pkg/kv/bolt"
	"github.com/nimburion/odemkv/pkg/kv/etcd"
	"github.com/nimburion/odemkv/pkg/kv/memory"
	"github.com/nimburion/odemkv/pkg/kv/redis"
	"github.com/nimburion/odemkv/pkg/observability/logger"
)

// Cosa fa: seleziona e inizializza il client key-value in base alla config.
// Cosa NON fa: non applica il prefisso dei record, lo fa l'adapter.
// Esempio minimo: client, err := factory.NewClient(cfg.Store, log)
func NewClient(cfg config.StoreConfig, log logger.Logger) (kv.Client, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	log = log.With("backend", backend)

	switch backend {
	case config.BackendEtcd:
		return etcd.New(etcd.Config{
			Endpoints:        cfg.Etcd.Endpoints,
			Username:         cfg.Etcd.Username,
			Password:         cfg.Etcd.Password,
			DialTimeout:      cfg.Etcd.DialTimeout,
			OperationTimeout: cfg.Etcd.OperationTimeout,
			LockTTL:          cfg.Etcd.LockTTL,
			PageSize:         cfg.Etcd.PageSize,
		}, log)
	case config.BackendRedis:
		return redis.New(redis.Config{
			URL:               cfg.Redis.URL,
			MaxConns:          cfg.Redis.MaxConns,
			OperationTimeout:  cfg.Redis.OperationTimeout,
			LockPrefix:        cfg.Redis.LockPrefix,
			LockTTL:           cfg.Redis.LockTTL,
			LockRetryInterval: cfg.Redis.LockRetryInterval,
			ScanCount:         cfg.Redis.ScanCount,
		}, log)
	case config.BackendBolt:
		return bolt.New(bolt.Config{
			Path:        cfg.Bolt.Path,
			Bucket:      cfg.Bolt.Bucket,
			OpenTimeout: cfg.Bolt.OpenTimeout,
		}, log)
	case config.BackendMemory:
		log.Warn("memory backend selected, records are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store.backend %q (supported: etcd, redis, bolt, memory)", cfg.Backend)
	}
}
