// Package metrics provides Prometheus metrics collection for the classifier
// service. Prediction traffic, failures by kind, latency, model state and
// encoder fallbacks are exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the classifier.
type Metrics struct {
	MLPredictions     prometheus.Counter     // Total number of successful predictions
	MLFailures        *prometheus.CounterVec // Prediction failures by kind
	MLLatency         prometheus.Histogram   // Prediction latency in seconds
	MLModelLoaded     prometheus.Gauge       // 1 when a model artifact is loaded
	MLModelAge        prometheus.Gauge       // Age of the model artifact in seconds
	UnknownCategories *prometheus.CounterVec // Categories that fell back to a default, by field
	CacheHits         prometheus.Counter     // Predictions answered from the cache
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of successful predictions",
		}),
		MLFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of failed predictions by kind",
		}, []string{"kind"}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Prediction latency in seconds (encoding and inference)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		MLModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_loaded",
			Help: "Whether a model artifact is loaded (1) or not (0)",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		UnknownCategories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unknown_categories_total",
			Help: "Categorical values that fell back to the policy default, by field",
		}, []string{"field"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_cache_hits_total",
			Help: "Total number of predictions answered from the cache",
		}),
	}
}
