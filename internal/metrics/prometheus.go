// Package metrics provides the Prometheus metrics of the web app and the upload worker.
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

const namespace = "zev"

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds all collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   prometheus.Gauge
	backendCalls       *prometheus.CounterVec
	backendDuration    *prometheus.HistogramVec
	cacheLookups       *prometheus.CounterVec
	uploadJobs         *prometheus.CounterVec
	rateLimited        prometheus.Counter
	suspiciousRequests *prometheus.CounterVec
	loginsTotal        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration in seconds", Buckets: latencyBuckets,
		}, []string{"method", "route"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
		backendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backend", Name: "calls_total",
			Help: "Calls to the billing backend by resource and outcome",
		}, []string{"resource", "outcome"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "backend", Name: "call_duration_seconds",
			Help: "Billing backend call duration in seconds", Buckets: latencyBuckets,
		}, []string{"resource"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "lookups_total",
			Help: "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		uploadJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upload", Name: "jobs_total",
			Help: "Upload job state transitions",
		}, []string{"status"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		suspiciousRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "security", Name: "suspicious_requests_total",
			Help: "Requests flagged by the suspicious request detector",
		}, []string{"reason"}),
		loginsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logins_total",
			Help: "Completed and failed Keycloak logins",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) IncInFlight() {
	if m != nil {
		m.requestsInFlight.Inc()
	}
}

func (m *Metrics) DecInFlight() {
	if m != nil {
		m.requestsInFlight.Dec()
	}
}

// RecordBackendCall counts a backend call; outcome is "ok" or an error class.
func (m *Metrics) RecordBackendCall(resource, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(resource, outcome).Inc()
	m.backendDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// CacheObserver returns a hook suitable for LRUCache.OnLookup.
func (m *Metrics) CacheObserver(cache string) func(hit bool) {
	if m == nil {
		return nil
	}
	hits := m.cacheLookups.WithLabelValues(cache, "hit")
	misses := m.cacheLookups.WithLabelValues(cache, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
		} else {
			misses.Inc()
		}
	}
}

func (m *Metrics) RecordUploadJob(status string) {
	if m != nil {
		m.uploadJobs.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RecordRateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) RecordSuspicious(reason string) {
	if m != nil {
		m.suspiciousRequests.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordLogin(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}
