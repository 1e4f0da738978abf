// Package cli implements the odemkv command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/odemkv/pkg/config"
	"github.com/nimburion/odemkv/pkg/kv/factory"
	"github.com/nimburion/odemkv/pkg/observability/logger"
	"github.com/nimburion/odemkv/pkg/observability/tracing"
	"github.com/nimburion/odemkv/pkg/odem"
	"github.com/nimburion/odemkv/pkg/version"
)

// Options customizes the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string
}

type root struct {
	opts       Options
	cfgPath    string
	secretFile string
}

// NewRootCommand creates the odemkv command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "odemkv"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "ODEM"
	}
	r := &root{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&r.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&r.secretFile, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	flags.String("backend", "", "store backend (etcd, redis, bolt, memory)")
	flags.String("prefix", "", "record key prefix")
	flags.StringSlice("etcd-endpoints", nil, "etcd endpoints")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("bolt-path", "", "bbolt database file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")

	rootCmd.AddCommand(
		r.getCommand(),
		r.putCommand(),
		r.createCommand(),
		r.hasCommand(),
		r.removeCommand(),
		r.keysCommand(),
		r.purgeCommand(),
		r.watchCommand(),
		r.healthcheckCommand(),
		r.configCommand(),
		r.versionCommand(),
	)
	return rootCmd
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// LoadConfigAndLogger loads the configuration from file, secrets, env and
// flags and builds the logger writing to out.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet, out io.Writer) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}

	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, _ := logger.ParseLogLevel(cfg.Observability.LogLevel)
	format, _ := logger.ParseLogFormat(cfg.Observability.LogFormat)
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format, Output: out})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if level == logger.DebugLevel {
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg.Redacted()))
	}
	return cfg, log, nil
}

func (r *root) loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(r.cfgPath, r.opts.EnvPrefix, r.secretFile, cmd.Flags(), cmd.ErrOrStderr())
}

// session bundles what a command needs to talk to the store.
type session struct {
	cfg     *config.Config
	log     logger.Logger
	adapter *odem.KVAdapter
	tracer  *tracing.TracerProvider
}

func (r *root) open(cmd *cobra.Command) (*session, error) {
	cfg, log, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.NewTracerProvider(cmd.Context(), tracing.ConfigFrom(cfg, version.Current(cfg.Service.Name).Version))
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	client, err := factory.NewClient(cfg.Store, log)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("connect store: %w", err)
	}

	adapter, err := odem.New(client, AdapterOptions(cfg), log)
	if err != nil {
		_ = client.Close()
		_ = tracer.Shutdown(context.Background())
		return nil, fmt.Errorf("create adapter: %w", err)
	}

	return &session{cfg: cfg, log: log, adapter: adapter, tracer: tracer}, nil
}

func (s *session) Close() error {
	var errs []error
	if err := s.adapter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close adapter: %w", err))
	}
	if err := s.tracer.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if zl, ok := s.log.(*logger.ZapLogger); ok {
		_ = zl.Sync()
	}
	return errors.Join(errs...)
}

// AdapterOptions derives the adapter options from cfg. Connection settings
// are taken from the redacted configuration so they can be shown safely.
func AdapterOptions(cfg *config.Config) odem.Options {
	opts := odem.DefaultOptions()
	opts.Prefix = cfg.Store.Prefix
	opts.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	opts.MaxCreateAttempts = cfg.Store.MaxCreateAttempts

	redacted := cfg.Redacted()
	switch opts.Backend {
	case config.BackendEtcd:
		opts.Client = map[string]any{
			"hosts":       redacted.Store.Etcd.Endpoints,
			"dialTimeout": redacted.Store.Etcd.DialTimeout.String(),
		}
		if cfg.Store.Etcd.Username != "" {
			opts.Credentials = map[string]string{
				"username": cfg.Store.Etcd.Username,
				"password": cfg.Store.Etcd.Password,
			}
		}
	case config.BackendRedis:
		opts.Client = map[string]any{
			"url":        redacted.Store.Redis.URL,
			"lockPrefix": redacted.Store.Redis.LockPrefix,
		}
	case config.BackendBolt:
		opts.Client = map[string]any{
			"path":   redacted.Store.Bolt.Path,
			"bucket": redacted.Store.Bolt.Bucket,
		}
	}
	return opts
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "ODEM"
	}
	return strings.ToUpper(trimmed)
}
