// Package metrics exposes Prometheus collectors for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Degraded reasons.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	checksTotal     *prometheus.CounterVec
	checksDegraded  *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	ruleErrors      *prometheus.CounterVec
	alertsTotal     prometheus.Counter
	eventsProcessed *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_checks_total",
				Help: "Total number of fraud checks by decision",
			},
			[]string{"decision"},
		),
		checksDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_checks_degraded_total",
				Help: "Checks answered with the degraded result",
			},
			[]string{"reason"},
		),
		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kestrel_check_duration_seconds",
				Help:    "End-to-end CheckFraud latency",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		ruleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_rule_errors_total",
				Help: "Rule evaluation errors neutralized into passing outcomes",
			},
			[]string{"category"},
		),
		alertsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kestrel_alerts_total",
				Help: "Alerts dispatched",
			},
		),
		eventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_events_processed_total",
				Help: "Bus events consumed by the worker",
			},
			[]string{"topic", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		gatherer: reg,
	}
}

// ObserveCheck records a completed check.
func (m *Metrics) ObserveCheck(decision domain.Decision, d time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(string(decision)).Inc()
	m.checkDuration.Observe(d.Seconds())
}

// CheckDegraded records a degraded result.
func (m *Metrics) CheckDegraded(reason string) {
	if m == nil {
		return
	}
	m.checksDegraded.WithLabelValues(reason).Inc()
}

// RuleError records a neutralized rule evaluation error.
func (m *Metrics) RuleError(category domain.Category) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(string(category)).Inc()
}

// AlertDispatched records an alert.
func (m *Metrics) AlertDispatched() {
	if m == nil {
		return
	}
	m.alertsTotal.Inc()
}

// EventProcessed records a consumed bus event.
func (m *Metrics) EventProcessed(topic string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.eventsProcessed.WithLabelValues(topic, status).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
