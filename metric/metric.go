// Package metric provides Prometheus metrics for the unsmesh pipeline.
// A private registry keeps the exposition surface limited to what the
// components register, plus Go runtime and process collectors.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Core               *CoreMetrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// CoreMetrics are the pipeline-wide metrics every sink reports into.
type CoreMetrics struct {
	MessagesReceived   *prometheus.CounterVec // by topic kind (uns, sparkplug)
	MessagesProcessed  *prometheus.CounterVec // by sink
	DecodeFailures     *prometheus.CounterVec // by reason
	PersistenceRetries *prometheus.CounterVec // by sink
	ProcessingDuration *prometheus.HistogramVec
	BrokerConnected    prometheus.Gauge
	ComponentHealthy   *prometheus.GaugeVec
}

// NewRegistry creates a metrics registry with the core pipeline metrics and
// Go runtime collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.Core = newCoreMetrics()
	r.prometheusRegistry.MustRegister(
		r.Core.MessagesReceived,
		r.Core.MessagesProcessed,
		r.Core.DecodeFailures,
		r.Core.PersistenceRetries,
		r.Core.ProcessingDuration,
		r.Core.BrokerConnected,
		r.Core.ComponentHealthy,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

func newCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unsmesh",
			Name:      "messages_received_total",
			Help:      "Total MQTT messages received, by topic namespace",
		}, []string{"namespace"}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unsmesh",
			Name:      "messages_processed_total",
			Help:      "Messages fully processed, by sink",
		}, []string{"sink"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unsmesh",
			Name:      "decode_failures_total",
			Help:      "Messages dropped because the payload or topic could not be decoded",
		}, []string{"reason"}),
		PersistenceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unsmesh",
			Name:      "persistence_retries_total",
			Help:      "Retry attempts against persistence backends, by sink",
		}, []string{"sink"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unsmesh",
			Name:      "processing_duration_seconds",
			Help:      "Per-message processing time from delivery to sink completion",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"sink"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "unsmesh",
			Name:      "broker_connected",
			Help:      "1 when the MQTT broker connection is up",
		}),
		ComponentHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "unsmesh",
			Name:      "component_healthy",
			Help:      "1 when the named component reports healthy",
		}, []string{"component"}),
	}
}

// PrometheusRegistry returns the underlying Prometheus registry for the
// exposition handler.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a component-specific collector under a namespaced key.
// Registering the same key twice is an invalid-classified error.
func (r *Registry) Register(componentName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", metricName, componentName),
			"metric.Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "metric.Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "metric.Registry", "Register", "collector registration")
	}

	r.registered[key] = c
	return nil
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(componentName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)
	c, exists := r.registered[key]
	if !exists {
		return false
	}

	ok := r.prometheusRegistry.Unregister(c)
	if ok {
		delete(r.registered, key)
	}
	return ok
}
