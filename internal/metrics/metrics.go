// Package metrics exposes the Prometheus collectors of the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. A nil *Metrics is valid
// and records nothing, so components can be built without it in tests.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Logins             *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec
	TokensIssued       *prometheus.CounterVec
	RateLimited        *prometheus.CounterVec

	AuditEvents  *prometheus.CounterVec
	AuditDropped prometheus.Counter

	StoreFallbacks *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them together with
// the Go runtime and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "logins_total",
				Help:      "Login attempts by result",
			},
			[]string{"result"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "token_verifications_total",
				Help:      "Token verifications by result code",
			},
			[]string{"result"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "tokens_issued_total",
				Help:      "Tokens issued by type",
			},
			[]string{"type"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limiter, by scope",
			},
			[]string{"scope"},
		),
		AuditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Security events recorded",
			},
			[]string{"event_type", "severity"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Security events not delivered to durable sinks because the queue was full",
			},
		),
		StoreFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "fallbacks_total",
				Help:      "Operations served from local state because the shared store was unavailable",
			},
			[]string{"store", "op"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCount,
		m.RequestDuration,
		m.Logins,
		m.TokenVerifications,
		m.TokensIssued,
		m.RateLimited,
		m.AuditEvents,
		m.AuditDropped,
		m.StoreFallbacks,
	)
	return m
}

// Registry returns the private registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenVerified(result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) Limited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) AuditEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(eventType, severity).Inc()
}

func (m *Metrics) AuditDrop() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// StoreFallback matches store.FallbackOptions.OnFallback.
func (m *Metrics) StoreFallback(storeName, op string) {
	if m == nil {
		return
	}
	m.StoreFallbacks.WithLabelValues(storeName, op).Inc()
}
