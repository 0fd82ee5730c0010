// Package metrics provides Prometheus metrics for the engine cache, ingestion and HTTP layer.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	engineBuilds    *prometheus.CounterVec
	engineBuildTime prometheus.Histogram
	engineTeardowns *prometheus.CounterVec
	liveEngines     prometheus.Gauge
	ingestions      *prometheus.CounterVec
	dedupUpserts    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default Prometheus registry
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates and registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_engine_cache_lookups_total",
				Help: "Engine cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
		engineBuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_engine_builds_total",
				Help: "Engine constructions by provider and status",
			},
			[]string{"provider", "status"},
		),
		engineBuildTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moneyrag_engine_build_duration_seconds",
				Help:    "Engine construction duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		engineTeardowns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_engine_teardowns_total",
				Help: "Engine teardowns by status",
			},
			[]string{"status"},
		),
		liveEngines: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "moneyrag_engines_live",
				Help: "Number of engine instances currently cached",
			},
		),
		ingestions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_ingestions_total",
				Help: "File ingestion state transitions",
			},
			[]string{"state"},
		),
		dedupUpserts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_transaction_upserts_total",
				Help: "Fingerprinted transaction upserts by source and status",
			},
			[]string{"source", "status"},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneyrag_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moneyrag_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordEngineBuild records one construction attempt
func (m *Metrics) RecordEngineBuild(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.engineBuilds.WithLabelValues(provider, statusLabel(err)).Inc()
	m.engineBuildTime.Observe(duration.Seconds())
}

// RecordEngineTeardown records one teardown
func (m *Metrics) RecordEngineTeardown(err error) {
	if m == nil {
		return
	}
	m.engineTeardowns.WithLabelValues(statusLabel(err)).Inc()
}

// SetLiveEngines sets the live engine gauge
func (m *Metrics) SetLiveEngines(n int) {
	if m == nil {
		return
	}
	m.liveEngines.Set(float64(n))
}

// RecordIngestion records an ingestion state transition
func (m *Metrics) RecordIngestion(state string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(state).Inc()
}

// RecordUpsert records a fingerprinted transaction upsert
func (m *Metrics) RecordUpsert(source string, err error) {
	if m == nil {
		return
	}
	m.dedupUpserts.WithLabelValues(source, statusLabel(err)).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request. route is the matched chi pattern.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
