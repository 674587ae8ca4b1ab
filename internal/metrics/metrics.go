package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Domain
	URLsCreatedTotal     prometheus.Counter
	CustomCodesTotal     prometheus.Counter
	RedirectsTotal       *prometheus.CounterVec
	ClicksRecordedTotal  prometheus.Counter
	ClickFailuresTotal   prometheus.Counter
	ExpiredReapedTotal   prometheus.Counter
	AllocationRetryTotal prometheus.Counter

	// Infrastructure
	CacheLookupsTotal *prometheus.CounterVec
	CacheErrorsTotal  *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	LogSinkDropped    prometheus.Counter
	LogSinkErrors     prometheus.Counter
}

// New creates every collector and registers it with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by endpoint, method and status code",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_active",
			Help: "Number of HTTP requests currently being processed",
		}),

		URLsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "urls_created_total",
			Help: "Total number of short URLs created",
		}),
		CustomCodesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "custom_codes_total",
			Help: "Total number of short URLs created with a caller chosen code",
		}),
		// result is one of ok, not_found, expired, error
		RedirectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redirects_total",
				Help: "Total number of redirect resolutions by result",
			},
			[]string{"result"},
		),
		ClicksRecordedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clicks_recorded_total",
			Help: "Total number of clicks appended to a history",
		}),
		ClickFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "click_record_failures_total",
			Help: "Redirects served whose click could not be recorded",
		}),
		ExpiredReapedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "expired_urls_reaped_total",
			Help: "Total number of expired records removed by the reaper",
		}),
		AllocationRetryTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "shortcode_allocation_retries_total",
			Help: "Generated short codes discarded because they were taken",
		}),

		CacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Record cache lookups by result (hit, miss, filtered)",
			},
			[]string{"result"},
		),
		CacheErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_errors_total",
				Help: "Total number of cache errors by operation",
			},
			[]string{"operation"},
		),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_events_total",
				Help: "Click events handed to the publisher by result",
			},
			[]string{"result"},
		),
		LogSinkDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "log_sink_dropped_total",
			Help: "Log events dropped because the sink queue was full",
		}),
		LogSinkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "log_sink_errors_total",
			Help: "Log events the sink failed to deliver",
		}),
	}
}
