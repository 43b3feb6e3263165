// Package metrics holds the Prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records publish, undo and diff outcomes for the workspace
// repository, and request latency for the HTTP layer.
type Metrics struct {
	registry *prometheus.Registry

	publishItems *prometheus.CounterVec
	undoItems    *prometheus.CounterVec
	diffItems    prometheus.Histogram
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		publishItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphdesk_publish_items_total",
			Help: "Publish items processed by kind and result",
		}, []string{"kind", "result"}),
		undoItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "graphdesk_undo_items_total",
			Help: "Undo items processed by kind and result",
		}, []string{"kind", "result"}),
		diffItems: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphdesk_diff_items",
			Help:    "Number of items in a computed workspace diff",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) PublishItem(kind, result string) {
	m.publishItems.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) UndoItem(kind, result string) {
	m.undoItems.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) DiffItems(n int) {
	m.diffItems.Observe(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
