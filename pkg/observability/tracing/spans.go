package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used for adapter spans.
const InstrumentationName = "github.com/nimburion/odemkv/pkg/odem"

// StartStoreSpan creates a client span for one adapter operation.
// The span is named "KV <operation>" and carries the backend and key
// attributes configured through opts.
func StartStoreSpan(ctx context.Context, operation string, opts ...StoreSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(InstrumentationName)

	spanOpts := &storeSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", operation),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := tracer.Start(ctx, fmt.Sprintf("KV %s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// StoreSpanOption configures a store span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	attributes []attribute.KeyValue
}

// WithStoreSystem sets the backing system (etcd, redis, bolt, memory).
func WithStoreSystem(system string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithStoreKey sets the record key the operation addresses.
func WithStoreKey(key string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("odem.key", key))
	}
}

// WithStorePrefix sets the adapter prefix.
func WithStorePrefix(prefix string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("odem.prefix", prefix))
	}
}

// RecordError records err on span and marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
