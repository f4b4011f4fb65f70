package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the bulletin engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	sendDuration    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	signatures      *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_attempts_total",
		Help: "Notification attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	sendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Provider send latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_transitions_total",
		Help: "Applied bulletin lifecycle transitions",
	}, []string{"transition"})

	signatures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletin_signatures_total",
		Help: "Bulk signing outcomes per bulletin",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups, attempts, sendDuration, transitions, signatures, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		attempts:        attempts,
		sendDuration:    sendDuration,
		transitions:     transitions,
		signatures:      signatures,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveNotification records the outcome of one (recipient, channel) attempt.
// Duplicates never reach a provider so they carry no latency.
func (m *MetricsService) ObserveNotification(result models.NotificationResult, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "failed"
	switch {
	case result.Duplicate:
		outcome = "duplicate"
	case result.Success:
		outcome = "sent"
	case result.Error == errTimeout:
		outcome = "timeout"
	case result.Error == errCanceled:
		outcome = "canceled"
	}
	m.attempts.WithLabelValues(string(result.Channel), outcome).Inc()
	if duration > 0 {
		m.sendDuration.WithLabelValues(string(result.Channel)).Observe(duration.Seconds())
	}
}

// RecordTransition counts an applied lifecycle transition.
func (m *MetricsService) RecordTransition(transition models.BulletinTransition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(transition)).Inc()
}

// RecordSignature counts one bulk signing outcome.
func (m *MetricsService) RecordSignature(outcome string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(outcome).Inc()
}
