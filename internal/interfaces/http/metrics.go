package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds all Prometheus metrics for marketd on its own
// registry so tests can run several servers without collisions.
type MetricsRegistry struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CacheEvents      *prometheus.CounterVec
	BuildsTotal      *prometheus.CounterVec
	BuildDuration    prometheus.Histogram
	RateLimitedTotal *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
	HotKeys          prometheus.Gauge
}

// NewMetricsRegistry creates and registers the marketd metric set.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketd_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route"},
		),
		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_cache_events_total",
				Help: "Payload cache outcomes (hit, stale, miss)",
			},
			[]string{"outcome"},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_builds_total",
				Help: "Payload pipeline builds by outcome",
			},
			[]string{"outcome"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketd_build_duration_seconds",
				Help:    "Payload pipeline build latency including downloads",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_rate_limited_total",
				Help: "Requests rejected by the rate limiter per route class",
			},
			[]string{"class"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketd_active_streams",
				Help: "Currently open SSE subscriptions",
			},
		),
		HotKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketd_hot_keys",
				Help: "Payload keys inside the hot refresh window",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheEvents,
		m.BuildsTotal,
		m.BuildDuration,
		m.RateLimitedTotal,
		m.ActiveStreams,
		m.HotKeys,
	)
	return m
}

// Handler serves the registry on /metrics.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheEvent, BuildCompleted and SetHotKeys satisfy service.Observer.

func (m *MetricsRegistry) CacheEvent(outcome string) {
	m.CacheEvents.WithLabelValues(outcome).Inc()
}

func (m *MetricsRegistry) BuildCompleted(outcome string, elapsed time.Duration) {
	m.BuildsTotal.WithLabelValues(outcome).Inc()
	m.BuildDuration.Observe(elapsed.Seconds())
}

func (m *MetricsRegistry) SetHotKeys(n int) {
	m.HotKeys.Set(float64(n))
}
