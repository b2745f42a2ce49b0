package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Registry manages the registration and lifecycle of dynamically created
// metric collectors, keyed by metric key. It wraps a dedicated Prometheus
// registry so the set of exported series is exactly the set of live cache
// entries plus, optionally, the exporter's own runtime metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metric registry. When exporterMetrics is true
// the Go runtime and process collectors are registered alongside the
// webhook-derived metrics.
func NewRegistry(exporterMetrics bool) *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	if exporterMetrics {
		prometheusRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Registry{
		prometheusRegistry: prometheusRegistry,
		registered:         make(map[string]prometheus.Collector),
	}
}

// Register registers a collector under the given key.
func (r *Registry) Register(key string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("collector already registered for key %s", key),
			"Registry", "Register", "duplicate registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for key %s", key))
		}
		return errors.WrapInvalid(err, "Registry", "Register",
			fmt.Sprintf("register collector for key %s", key))
	}

	r.registered[key] = collector
	return nil
}

// Unregister removes the collector registered under key. Returns whether
// a collector was registered.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	delete(r.registered, key)
	return r.prometheusRegistry.Unregister(collector)
}

// Contains reports whether a collector is registered under key.
func (r *Registry) Contains(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.registered[key]
	return exists
}

// Gatherer exposes the registry for exposition rendering. The returned
// gatherer is finite and restartable; each Gather call enumerates the
// currently registered instances.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prometheusRegistry
}

// Handler returns an HTTP handler rendering the registry in the standard
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(
		r.prometheusRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}
