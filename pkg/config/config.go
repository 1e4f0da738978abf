package config

import "time"

// Store backend constants
const (
	// BackendEtcd stores records in an etcd v3 cluster
	BackendEtcd = "etcd"
	// BackendRedis stores records in Redis
	BackendRedis = "redis"
	// BackendBolt stores records in a local bbolt file
	BackendBolt = "bolt"
	// BackendMemory keeps records in process memory
	BackendMemory = "memory"
)

// Config is the root configuration structure of odemkv
type Config struct {
	Service       ServiceConfig
	Store         StoreConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// StoreConfig selects and configures the key-value backend
type StoreConfig struct {
	Backend           string `mapstructure:"backend" yaml:"backend"`
	Prefix            string `mapstructure:"prefix" yaml:"prefix"`
	MaxCreateAttempts int    `mapstructure:"max_create_attempts" yaml:"max_create_attempts"`
	Etcd              EtcdConfig
	Redis             RedisConfig
	Bolt              BoltConfig
}

// EtcdConfig configures the etcd backend
type EtcdConfig struct {
	Endpoints        []string      `mapstructure:"endpoints" yaml:"endpoints"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	LockTTL          time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	PageSize         int64         `mapstructure:"page_size" yaml:"page_size"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	MaxConns          int           `mapstructure:"max_conns" yaml:"max_conns"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	LockPrefix        string        `mapstructure:"lock_prefix" yaml:"lock_prefix"`
	LockTTL           time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval" yaml:"lock_retry_interval"`
	ScanCount         int64         `mapstructure:"scan_count" yaml:"scan_count"`
}

// BoltConfig configures the bbolt backend
type BoltConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	Bucket      string        `mapstructure:"bucket" yaml:"bucket"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // json, text
	Metrics   MetricsConfig
	Tracing   TracingConfig
}

// MetricsConfig configures the Prometheus endpoint served by long running
// commands.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "odemkv",
			Environment: "production",
		},
		Store: StoreConfig{
			Backend:           BackendEtcd,
			Prefix:            "hitchy-odem",
			MaxCreateAttempts: 100,
			Etcd: EtcdConfig{
				Endpoints:        []string{"127.0.0.1:2379"},
				DialTimeout:      5 * time.Second,
				OperationTimeout: 5 * time.Second,
				LockTTL:          10 * time.Second,
				PageSize:         256,
			},
			Redis: RedisConfig{
				URL:               "redis://127.0.0.1:6379/0",
				MaxConns:          10,
				OperationTimeout:  3 * time.Second,
				LockPrefix:        "odem:lock",
				LockTTL:           10 * time.Second,
				LockRetryInterval: 50 * time.Millisecond,
				ScanCount:         100,
			},
			Bolt: BoltConfig{
				Path:        "odem.db",
				Bucket:      "odem",
				OpenTimeout: 5 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Metrics: MetricsConfig{
				Enabled: false,
				Address: ":9090",
			},
			Tracing: TracingConfig{
				Enabled:    false,
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
			},
		},
	}
}
