package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nimburion/odemkv/pkg/config"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{
		ServiceName: "test-service",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Enabled() {
		t.Fatal("expected provider to report disabled")
	}

	_, span := provider.Tracer("test").Start(context.Background(), "test-span")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("expected no error on force flush, got: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("expected no error on shutdown, got: %v", err)
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{Enabled: true, ServiceName: "test-service"},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{Enabled: true, ServiceName: "test-service", Endpoint: "localhost:4317", SampleRate: -0.1},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate too high",
			config:      TracerConfig{Enabled: true, ServiceName: "test-service", Endpoint: "localhost:4317", SampleRate: 1.5},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerConfig_ValidSampleRates(t *testing.T) {
	for _, rate := range []float64{0.0, 0.01, 0.1, 0.5, 1.0} {
		t.Run(fmt.Sprintf("sample_rate_%v", rate), func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), TracerConfig{
				ServiceName: "test-service",
				SampleRate:  rate,
			})
			if err != nil {
				t.Errorf("expected no error for sample rate %f, got: %v", rate, err)
			}
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Observability.Tracing.Enabled = true
	cfg.Observability.Tracing.SampleRate = 0.25

	tc := ConfigFrom(cfg, "1.2.3")
	if tc.ServiceName != "odemkv" || tc.ServiceVersion != "1.2.3" {
		t.Fatalf("unexpected identity: %+v", tc)
	}
	if !tc.Enabled || tc.SampleRate != 0.25 || tc.Endpoint != "localhost:4317" {
		t.Fatalf("unexpected tracing settings: %+v", tc)
	}
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestStartStoreSpan(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartStoreSpan(context.Background(), "read",
		WithStoreSystem("memory"),
		WithStoreKey("users/1"),
		WithStorePrefix("app/"),
	)
	RecordSuccess(span)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	got := ended[0]
	if got.Name() != "KV read" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	if got.Status().Code != codes.Ok {
		t.Fatalf("expected OK status, got %v", got.Status().Code)
	}

	want := map[attribute.Key]string{
		"db.operation": "read",
		"db.system":    "memory",
		"odem.key":     "users/1",
		"odem.prefix":  "app/",
	}
	for _, kv := range got.Attributes() {
		if expected, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != expected {
				t.Fatalf("attribute %s = %q, want %q", kv.Key, kv.Value.AsString(), expected)
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing attributes: %v", want)
	}
}

func TestRecordError(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartStoreSpan(context.Background(), "write")
	RecordError(span, nil)
	RecordError(span, errors.New("store unavailable"))
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "store unavailable" {
		t.Fatalf("unexpected status %+v", got.Status())
	}
	if len(got.Events()) != 1 {
		t.Fatalf("expected one recorded error event, got %d", len(got.Events()))
	}
}
