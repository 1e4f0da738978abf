package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nimburion/odemkv/pkg/kv"
)

// Result label values
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

var (
	// operationsTotal counts adapter operations.
	// Labels: operation, result
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odem_operations_total",
			Help: "Total number of record adapter operations",
		},
		[]string{"operation", "result"},
	)

	// operationDuration tracks adapter operation latency in seconds.
	// Labels: operation
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "odem_operation_duration_seconds",
			Help:    "Record adapter operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// createAttempts tracks how many UUIDs a create needed.
	createAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "odem_create_attempts",
			Help:    "Number of generated UUIDs per create call",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		},
	)

	// remoteEventsTotal counts change notifications received from the store.
	// Labels: type
	remoteEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odem_remote_events_total",
			Help: "Total number of remote change notifications",
		},
		[]string{"type"},
	)
)

// RecordOperation records the outcome and duration of one adapter operation.
func RecordOperation(operation string, err error, duration time.Duration) {
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	operationsTotal.WithLabelValues(operation, resultOf(err)).Inc()
}

// ObserveCreateAttempts records the attempts a create call needed.
func ObserveCreateAttempts(attempts int) {
	createAttempts.Observe(float64(attempts))
}

// RecordRemoteEvent counts a remote notification of the given type.
func RecordRemoteEvent(eventType string) {
	remoteEventsTotal.WithLabelValues(eventType).Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, kv.ErrNotFound):
		return ResultNotFound
	default:
		return ResultError
	}
}
