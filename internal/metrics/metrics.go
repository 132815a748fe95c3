// Package metrics holds the Prometheus collectors of the storefront.  All
// recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bundle_store"

// Metrics groups the storefront collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	ordersCreated *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.  Passing a fresh
// prometheus.NewRegistry() keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		ordersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "created_total",
				Help:      "Orders created, by payment method",
			},
			[]string{"method"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "decisions_total",
				Help:      "Order state transitions, by resulting status and source",
			},
			[]string{"status", "source"},
		),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "callbacks_total",
				Help:      "Gateway callbacks received, by outcome",
			},
			[]string{"result"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "downloads",
				Name:      "total",
				Help:      "Artifact downloads served, by mode",
			},
			[]string{"mode"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency, by route and status code",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),
	}
	reg.MustRegister(
		m.ordersCreated, m.decisions, m.callbacks, m.downloads, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGauge exposes a value computed at scrape time, such as the number
// of live download tokens.
func (m *Metrics) RegisterGauge(reg prometheus.Registerer, subsystem, name, help string, fn func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) Decision(status, source string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) Callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) Download(mode string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(mode).Inc()
}

// ObserveHTTP records one request.  route is the registered pattern, never
// the raw path.
func (m *Metrics) ObserveHTTP(method, route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, code).Observe(seconds)
}
