// metrics.go - Prometheus metrics for the ledger daemon
package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shielded/internal/merkle"
)

const metricsNamespace = "shielded"

// MetricsCollector owns a private registry so tests can build several side by side.
type MetricsCollector struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transactions *prometheus.CounterVec
	rejected     *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	mc := &MetricsCollector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_created_total",
			Help:      "Transactions recorded by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_rejected_total",
			Help:      "Requests refused before reaching a handler.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.requests, mc.duration, mc.transactions, mc.rejected,
	)
	return mc
}

// ObserveRequest records one served request.
func (mc *MetricsCollector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	mc.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	mc.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// TransactionCreated counts a recorded transaction of the given type.
func (mc *MetricsCollector) TransactionCreated(kind string) {
	mc.transactions.WithLabelValues(kind).Inc()
}

// RequestRejected counts a request refused by middleware.
func (mc *MetricsCollector) RequestRejected(reason string) {
	mc.rejected.WithLabelValues(reason).Inc()
}

// TrackTree exports the accumulator's leaf count and height, read at scrape time.
func (mc *MetricsCollector) TrackTree(snapshot func() merkle.Snapshot) {
	mc.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "merkle_leaves",
			Help:      "Leaves in the accumulator.",
		}, func() float64 { return float64(snapshot().LeafCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "merkle_height",
			Help:      "Height of the accumulator.",
		}, func() float64 { return float64(snapshot().Height) }),
	)
}

// Registry exposes the underlying registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
