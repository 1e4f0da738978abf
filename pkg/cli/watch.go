package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/odemkv/pkg/health"
	"github.com/nimburion/odemkv/pkg/observability/metrics"
	"github.com/nimburion/odemkv/pkg/odem"
)

type watchLine struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

func (r *root) watchCommand() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print remote record changes as JSON lines until interrupted",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&address, "metrics-address", "", "serve /metrics and /healthz on this address (overrides observability.metrics)")
	cmd.RunE = r.withSession(func(cmd *cobra.Command, s *session, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var mu sync.Mutex
		enc := json.NewEncoder(cmd.OutOrStdout())
		sub := s.adapter.Subscribe(func(event odem.Event) {
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(watchLine{Type: event.Type.String(), Key: event.Key, Value: event.Value}); err != nil {
				s.log.Warn("failed to print change", "key", event.Key, "error", err)
			}
		})
		defer sub.Close()

		if address == "" && s.cfg.Observability.Metrics.Enabled {
			address = s.cfg.Observability.Metrics.Address
		}

		g, ctx := errgroup.WithContext(ctx)
		if address != "" {
			server := &http.Server{
				Addr:              address,
				Handler:           managementRouter(s),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				s.log.Info("serving management endpoints", "address", address)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("management server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
		}

		s.log.Info("watching remote changes", "prefix", s.adapter.Prefix())
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		return g.Wait()
	})
	return cmd
}

// managementRouter exposes metrics and health of a running session.
func managementRouter(s *session) http.Handler {
	registry := health.NewRegistry()
	registry.Register(health.NewPingChecker("process"))
	registry.Register(storeChecker(s))

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.NewRegistry().Handler()).Methods(http.MethodGet)
	router.Handle("/healthz", registry.Handler()).Methods(http.MethodGet)
	return router
}

func storeChecker(s *session) health.Checker {
	return health.NewStoreChecker("store", s.adapter, map[string]any{
		"backend": s.cfg.Store.Backend,
		"prefix":  s.adapter.Prefix(),
	})
}
