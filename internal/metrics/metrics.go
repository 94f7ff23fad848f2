// Package metrics holds the Prometheus collectors of the API: HTTP traffic,
// calls to the prediction and recommendation services, and circuit breaker
// state.  Collectors are registered on the Registerer given to New so tests
// can use a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// API Metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Upstream service metrics
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Circuit Breaker Metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRequests    *prometheus.CounterVec

	// Analysis outcome
	Analyses *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg.  Passing a *prometheus.Registry
// also makes it the source for Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leafguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leafguard_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		UpstreamCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leafguard_upstream_calls_total",
				Help: "Calls to the prediction and recommendation services",
			},
			[]string{"service", "outcome"}, // outcome: "success", "failure", "rejected", "canceled"
		),
		UpstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leafguard_upstream_call_duration_seconds",
				Help:    "Duration of upstream service calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"service"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leafguard_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leafguard_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		BreakerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leafguard_circuit_breaker_requests_total",
				Help: "Requests seen by the circuit breaker by result",
			},
			[]string{"name", "result"},
		),
		Analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leafguard_analyses_total",
				Help: "Completed analyses by recommendation outcome",
			},
			[]string{"recommendation"}, // "ok", "degraded"
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(service, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

// ObserveAnalysis counts a completed analysis.
func (m *Metrics) ObserveAnalysis(degraded bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	m.Analyses.WithLabelValues(outcome).Inc()
}

// Middleware counts requests by route template, not raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
