package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/nimburion/odemkv/pkg/kv/memory"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestAdapterChecker(t *testing.T) {
	tests := []struct {
		name   string
		check  checkFunc
		status Status
		errMsg string
	}{
		{
			name:   "healthy",
			check:  func(context.Context) error { return nil },
			status: StatusHealthy,
		},
		{
			name:   "unhealthy",
			check:  func(context.Context) error { return errors.New("connection refused") },
			status: StatusUnhealthy,
			errMsg: "connection refused",
		},
		{
			name: "timeout",
			check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			status: StatusUnhealthy,
			errMsg: context.DeadlineExceeded.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewAdapterChecker("store", tt.check, 20*time.Millisecond).Check(context.Background())
			if result.Status != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, result.Status)
			}
			if result.Error != tt.errMsg {
				t.Fatalf("expected error %q, got %q", tt.errMsg, result.Error)
			}
			if result.Name != "store" {
				t.Fatalf("unexpected name %q", result.Name)
			}
		})
	}
}

func TestStoreChecker_WithMemoryStore(t *testing.T) {
	store := memory.New()
	checker := NewStoreChecker("kv", store, map[string]any{"backend": "memory"})

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy || result.Metadata["backend"] != "memory" {
		t.Fatalf("unexpected result %+v", result)
	}

	_ = store.Close()
	if result := checker.Check(context.Background()); result.Status != StatusUnhealthy {
		t.Fatalf("closed store must be unhealthy, got %+v", result)
	}
}

func TestRegistry_Check(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewPingChecker("ping"))
	registry.Register(NewAdapterChecker("store", checkFunc(func(context.Context) error { return nil }), 0))

	result := registry.Check(context.Background())
	if !result.IsHealthy() {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if names := []string{result.Checks[0].Name, result.Checks[1].Name}; !reflect.DeepEqual(names, []string{"ping", "store"}) {
		t.Fatalf("results must be sorted by name, got %v", names)
	}
	if !reflect.DeepEqual(registry.List(), []string{"ping", "store"}) {
		t.Fatalf("unexpected list %v", registry.List())
	}

	registry.Register(NewAdapterChecker("store", checkFunc(func(context.Context) error { return errors.New("down") }), 0))
	if result := registry.Check(context.Background()); result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}

	registry.Unregister("store")
	if _, err := registry.CheckOne(context.Background(), "store"); err == nil {
		t.Fatal("expected error for unknown check")
	}
	if result, err := registry.CheckOne(context.Background(), "ping"); err != nil || result.Status != StatusHealthy {
		t.Fatalf("unexpected ping result %+v (%v)", result, err)
	}
}

func TestRegistry_Handler(t *testing.T) {
	healthy := true
	registry := NewRegistry()
	registry.Register(NewAdapterChecker("store", checkFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}), 0))

	serve := func() (*httptest.ResponseRecorder, AggregatedResult) {
		rec := httptest.NewRecorder()
		registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body AggregatedResult
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		return rec, body
	}

	rec, body := serve()
	if rec.Code != http.StatusOK || body.Status != StatusHealthy {
		t.Fatalf("expected 200 healthy, got %d %s", rec.Code, body.Status)
	}

	healthy = false
	rec, body = serve()
	if rec.Code != http.StatusServiceUnavailable || body.Status != StatusUnhealthy {
		t.Fatalf("expected 503 unhealthy, got %d %s", rec.Code, body.Status)
	}
}
