// Package metrics exposes Prometheus collectors for sessions, browsers and
// publish jobs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsCreated    prometheus.Counter
	SessionsActive     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	SessionsRemoved    *prometheus.CounterVec

	// Publish metrics
	PublishJobs     *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	TagsAttached    *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	WSConnections   prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "publisher_sessions_created_total",
			Help: "Total number of login sessions created",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_sessions_active",
			Help: "Number of sessions held by the registry",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_session_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),
		SessionsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_sessions_removed_total",
			Help: "Sessions removed by reason",
		}, []string{"reason"}),

		PublishJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_publish_jobs_total",
			Help: "Finished publish jobs by outcome",
		}, []string{"mode", "outcome"}),
		PublishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "publisher_publish_duration_seconds",
			Help:    "Publish job duration in seconds",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 180, 300, 600},
		}, []string{"mode"}),
		TagsAttached: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_tags_attached_total",
			Help: "Tags attached to published notes by kind",
		}, []string{"kind"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "publisher_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "publisher_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_ws_connections",
			Help: "Open publish progress websockets",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.SessionsRemoved.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// RecordPublish records one finished job. outcome is "success" or the
// error kind.
func (m *Metrics) RecordPublish(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PublishJobs.WithLabelValues(mode, outcome).Inc()
	m.PublishDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordTag(canonical bool) {
	if m == nil {
		return
	}
	kind := "freeform"
	if canonical {
		kind = "canonical"
	}
	m.TagsAttached.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
