package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management.
// Precedence: flags > ENV > secrets file > config file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"backend":        "store.backend",
	"prefix":         "store.prefix",
	"etcd-endpoints": "store.etcd.endpoints",
	"redis-url":      "store.redis.url",
	"bolt-path":      "store.bolt.path",
	"log-level":      "observability.log_level",
	"log-format":     "observability.log_format",
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to "ODEM")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds the known flags of fs. Only flags set explicitly override
// other sources.
func (l *ViperLoader) WithFlags(fs *pflag.FlagSet) *ViperLoader {
	l.flags = fs
	return l
}

// Load loads the configuration and discards secrets bookkeeping.
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.LoadWithSecrets()
	return cfg, err
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Store
	v.BindEnv("store.backend", l.prefixedEnv("STORE_BACKEND"))
	v.BindEnv("store.prefix", l.prefixedEnv("STORE_PREFIX"))
	v.BindEnv("store.max_create_attempts", l.prefixedEnv("STORE_MAX_CREATE_ATTEMPTS"))

	// etcd
	v.BindEnv("store.etcd.endpoints", l.prefixedEnv("ETCD_ENDPOINTS"))
	v.BindEnv("store.etcd.username", l.prefixedEnv("ETCD_USERNAME"))
	v.BindEnv("store.etcd.password", l.prefixedEnv("ETCD_PASSWORD"))
	v.BindEnv("store.etcd.dial_timeout", l.prefixedEnv("ETCD_DIAL_TIMEOUT"))
	v.BindEnv("store.etcd.operation_timeout", l.prefixedEnv("ETCD_OPERATION_TIMEOUT"))
	v.BindEnv("store.etcd.lock_ttl", l.prefixedEnv("ETCD_LOCK_TTL"))
	v.BindEnv("store.etcd.page_size", l.prefixedEnv("ETCD_PAGE_SIZE"))

	// Redis
	v.BindEnv("store.redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("store.redis.max_conns", l.prefixedEnv("REDIS_MAX_CONNS"))
	v.BindEnv("store.redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("store.redis.lock_prefix", l.prefixedEnv("REDIS_LOCK_PREFIX"))
	v.BindEnv("store.redis.lock_ttl", l.prefixedEnv("REDIS_LOCK_TTL"))
	v.BindEnv("store.redis.lock_retry_interval", l.prefixedEnv("REDIS_LOCK_RETRY_INTERVAL"))
	v.BindEnv("store.redis.scan_count", l.prefixedEnv("REDIS_SCAN_COUNT"))

	// bbolt
	v.BindEnv("store.bolt.path", l.prefixedEnv("BOLT_PATH"))
	v.BindEnv("store.bolt.bucket", l.prefixedEnv("BOLT_BUCKET"))
	v.BindEnv("store.bolt.open_timeout", l.prefixedEnv("BOLT_OPEN_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics.enabled", l.prefixedEnv("METRICS_ENABLED"))
	v.BindEnv("observability.metrics.address", l.prefixedEnv("METRICS_ADDRESS"))
	v.BindEnv("observability.tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "ODEM"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.prefix", cfg.Store.Prefix)
	v.SetDefault("store.max_create_attempts", cfg.Store.MaxCreateAttempts)

	v.SetDefault("store.etcd.endpoints", cfg.Store.Etcd.Endpoints)
	v.SetDefault("store.etcd.username", cfg.Store.Etcd.Username)
	v.SetDefault("store.etcd.password", cfg.Store.Etcd.Password)
	v.SetDefault("store.etcd.dial_timeout", cfg.Store.Etcd.DialTimeout)
	v.SetDefault("store.etcd.operation_timeout", cfg.Store.Etcd.OperationTimeout)
	v.SetDefault("store.etcd.lock_ttl", cfg.Store.Etcd.LockTTL)
	v.SetDefault("store.etcd.page_size", cfg.Store.Etcd.PageSize)

	v.SetDefault("store.redis.url", cfg.Store.Redis.URL)
	v.SetDefault("store.redis.max_conns", cfg.Store.Redis.MaxConns)
	v.SetDefault("store.redis.operation_timeout", cfg.Store.Redis.OperationTimeout)
	v.SetDefault("store.redis.lock_prefix", cfg.Store.Redis.LockPrefix)
	v.SetDefault("store.redis.lock_ttl", cfg.Store.Redis.LockTTL)
	v.SetDefault("store.redis.lock_retry_interval", cfg.Store.Redis.LockRetryInterval)
	v.SetDefault("store.redis.scan_count", cfg.Store.Redis.ScanCount)

	v.SetDefault("store.bolt.path", cfg.Store.Bolt.Path)
	v.SetDefault("store.bolt.bucket", cfg.Store.Bolt.Bucket)
	v.SetDefault("store.bolt.open_timeout", cfg.Store.Bolt.OpenTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics.enabled", cfg.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.address", cfg.Observability.Metrics.Address)
	v.SetDefault("observability.tracing.enabled", cfg.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", cfg.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", cfg.Observability.Tracing.SampleRate)
}

// Validate validates the configuration and reports every problem at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}
