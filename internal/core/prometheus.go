package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutordesk/internal/remote"
)

// PrometheusMetricsRecorder exports service operation timings and the sync
// counters to a Prometheus registry.
type PrometheusMetricsRecorder struct {
	registry   *prometheus.Registry
	duration   *prometheus.HistogramVec
	operations *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	discards   *prometheus.CounterVec
}

var (
	_ MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
	_ remote.Metrics  = (*PrometheusMetricsRecorder)(nil)
)

// NewPrometheusMetricsRecorder registers the tutordesk collectors on a fresh
// registry together with the Go runtime and process collectors.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	r := &PrometheusMetricsRecorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutordesk_operation_duration_seconds",
			Help:    "Duration of service operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutordesk_operations_total",
			Help: "Service operations by outcome.",
		}, []string{"operation", "status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutordesk_subscription_deliveries_total",
			Help: "Snapshots delivered by live subscriptions.",
		}, []string{"collection"}),
		discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutordesk_stale_fetch_discards_total",
			Help: "One-shot fetch results discarded because newer data had been applied.",
		}, []string{"collection"}),
	}
	r.registry.MustRegister(
		r.duration,
		r.operations,
		r.deliveries,
		r.discards,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusMetricsRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}

// SubscriptionDelivery implements remote.Metrics.
func (r *PrometheusMetricsRecorder) SubscriptionDelivery(collection string) {
	r.deliveries.WithLabelValues(collection).Inc()
}

// StaleFetchDiscarded implements remote.Metrics.
func (r *PrometheusMetricsRecorder) StaleFetchDiscarded(collection string) {
	r.discards.WithLabelValues(collection).Inc()
}
