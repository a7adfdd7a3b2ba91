// Package metrics exposes Prometheus metrics for relayed chat streams.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
	OutcomeDisconnected  = "disconnected"
)

// Collector owns the gateway's metric registry. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	validationFailures *prometheus.CounterVec
	streams            *prometheus.CounterVec
	upstreamErrors     *prometheus.CounterVec
	fragments          *prometheus.CounterVec
	streamDuration     *prometheus.HistogramVec
	inFlight           prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "chatrelay"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Chat requests rejected before any upstream call, by reason.",
		}, []string{"reason"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Relayed chat streams by provider and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Classified upstream failures by provider and category.",
		}, []string{"provider", "category"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_relayed_total",
			Help:      "Text fragments delivered to callers.",
		}, []string{"provider"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time from upstream open to stream close.",
			// LLM generations run from sub-second to minutes.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_in_flight",
			Help:      "Streams currently being relayed.",
		}),
	}
	reg.MustRegister(c.validationFailures, c.streams, c.upstreamErrors, c.fragments, c.streamDuration, c.inFlight)
	return c
}

// RecordValidationFailure counts a rejected request.
func (c *Collector) RecordValidationFailure(reason string) {
	if c == nil {
		return
	}
	c.validationFailures.WithLabelValues(reason).Inc()
}

// StreamStarted marks a stream in flight and returns the function that
// records its completion.
func (c *Collector) StreamStarted(provider string) func(outcome string, fragments int, category string) {
	if c == nil {
		return func(string, int, string) {}
	}
	start := time.Now()
	c.inFlight.Inc()
	return func(outcome string, fragments int, category string) {
		c.inFlight.Dec()
		c.streams.WithLabelValues(provider, outcome).Inc()
		c.fragments.WithLabelValues(provider).Add(float64(fragments))
		c.streamDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
		if category != "" {
			c.upstreamErrors.WithLabelValues(provider, category).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
