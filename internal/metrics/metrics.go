// Package metrics holds the Prometheus collectors for notification flow and
// the HTTP API. Every method is safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appealbot"

// Failure kinds for NotificationFailed.
const (
	FailTransient   = "transient"
	FailPermanent   = "permanent"
	FailNoRecipient = "no_recipient"
)

// Notification sources for NotificationCreated.
const (
	SourceAppeal       = "appeal"
	SourceAdminRequest = "admin_request"
	SourceRevoke       = "revoke"
)

type Metrics struct {
	sent     prometheus.Counter
	failed   *prometheus.CounterVec
	created  *prometheus.CounterVec
	purged   prometheus.Counter
	pending  prometheus.Gauge
	tick     prometheus.Histogram
	httpReqs *prometheus.CounterVec
	httpLat  *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered and marked sent.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Failed delivery attempts by kind.",
		}, []string{"kind"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications produced by status changes.",
		}, []string{"source"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_purged_total",
			Help:      "Sent notifications removed by retention.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_pending",
			Help:      "Unsent notifications seen by the last dispatcher tick.",
		}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_tick_seconds",
			Help:      "Duration of one dispatcher tick.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if reg != nil {
		reg.MustRegister(m.sent, m.failed, m.created, m.purged, m.pending, m.tick, m.httpReqs, m.httpLat)
	}
	return m
}

func (m *Metrics) NotificationSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) NotificationFailed(kind string) {
	if m != nil {
		m.failed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) NotificationCreated(source string) {
	if m != nil {
		m.created.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}

func (m *Metrics) Pending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m != nil {
		m.tick.Observe(d.Seconds())
	}
}

// ObserveHTTP records one finished request. path should be the route
// template so label cardinality stays bounded.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(method, path, status).Inc()
	m.httpLat.WithLabelValues(method, path).Observe(d.Seconds())
}
