// Package metrics provides Prometheus metrics for the record adapter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure.
// It includes the adapter metrics and Go runtime metrics by default.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with default collectors:
// - adapter operation metrics (counter, duration, create attempts, remote events)
// - Go runtime and process metrics
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(operationsTotal)
	reg.MustRegister(operationDuration)
	reg.MustRegister(createAttempts)
	reg.MustRegister(remoteEventsTotal)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry: reg,
	}
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
//
// Example:
//
//	router.Handle("/metrics", registry.Handler())
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
