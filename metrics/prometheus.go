// Package metrics exposes engine and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/warp/cashback-engine/cashback"
)

// Collector records engine evaluations and request latencies. It
// implements cashback.Observer.
type Collector struct {
	registry *prometheus.Registry

	policyResolutions *prometheus.CounterVec
	summaryDuration   prometheus.Histogram
	summaryRows       prometheus.Histogram
	previews          *prometheus.CounterVec
	configFallbacks   prometheus.Counter
	cyclesClosed      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	logger logrus.FieldLogger
}

var _ cashback.Observer = (*Collector)(nil)

func NewCollector(logger logrus.FieldLogger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		policyResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cashback_policy_resolutions_total",
			Help: "Policy resolutions by source and reason",
		}, []string{"source", "reason"}),
		summaryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashback_summary_duration_seconds",
			Help:    "Time taken to summarize a cycle",
			Buckets: prometheus.DefBuckets,
		}),
		summaryRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashback_summary_transactions",
			Help:    "Posted transactions scanned per summary",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 5000},
		}),
		previews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cashback_previews_total",
			Help: "Reward previews by clamping outcome",
		}, []string{"budget_clamped", "share_clamped"}),
		configFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashback_cycle_config_fallbacks_total",
			Help: "Cycle resolutions that fell back to the calendar month",
		}),
		cyclesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cashback_cycles_closed_total",
			Help: "Closed-cycle snapshots written by outcome",
		}, []string{"outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logger: logger,
	}
}

// =============================================================================
// cashback.Observer
// =============================================================================

func (c *Collector) ObservePolicy(source cashback.PolicySource, reason string) {
	if source == "" {
		source = "none"
	}
	c.policyResolutions.WithLabelValues(string(source), reasonLabel(reason)).Inc()
}

func (c *Collector) ObserveSummary(d time.Duration, rows int) {
	c.summaryDuration.Observe(d.Seconds())
	c.summaryRows.Observe(float64(rows))
}

func (c *Collector) ObservePreview(budgetClamped, shareClamped bool) {
	c.previews.WithLabelValues(strconv.FormatBool(budgetClamped), strconv.FormatBool(shareClamped)).Inc()
}

func (c *Collector) ObserveConfigFallback() {
	c.configFallbacks.Inc()
}

// ObserveCycleClose counts scheduler outcomes.
func (c *Collector) ObserveCycleClose(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.cyclesClosed.WithLabelValues(outcome).Inc()
}

// reasonLabel keeps label cardinality bounded: invalid_config reasons carry
// free-form detail after the colon.
func reasonLabel(reason string) string {
	label, _, _ := strings.Cut(reason, ":")
	return label
}

// =============================================================================
// HTTP
// =============================================================================

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: c.logger.WithField("component", "metrics"),
	})
}

// Middleware records request count and latency per chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
