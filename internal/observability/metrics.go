package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and reconciler flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	batchesCreatedTotal      prometheus.Counter
	batchesFinalizedTotal    *prometheus.CounterVec
	installerSubmissionsTotal *prometheus.CounterVec
	pollIterationsTotal      prometheus.Counter
	pollDuration             prometheus.Histogram
	activePollers            prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rollout_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rollout_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rollout_engine",
				Name:      "batches_created_total",
				Help:      "Total number of batch install requests created.",
			},
		),
		batchesFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rollout_engine",
				Name:      "batches_finalized_total",
				Help:      "Total number of batches reaching a terminal state, by state.",
			},
			[]string{"state"},
		),
		installerSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rollout_engine",
				Name:      "installer_submissions_total",
				Help:      "Total number of manifest submissions to the installer, by result.",
			},
			[]string{"result"},
		),
		pollIterationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rollout_engine",
				Name:      "poll_iterations_total",
				Help:      "Total number of progress handle reads across all reconcilers.",
			},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rollout_engine",
				Name:      "poll_duration_seconds",
				Help:      "Duration of a single progress handle read in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		activePollers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rollout_engine",
				Name:      "active_pollers",
				Help:      "Current number of running progress reconcilers.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesCreatedTotal,
		m.batchesFinalizedTotal,
		m.installerSubmissionsTotal,
		m.pollIterationsTotal,
		m.pollDuration,
		m.activePollers,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchCreated() {
	if m == nil {
		return
	}
	m.batchesCreatedTotal.Inc()
}

func (m *Metrics) IncBatchFinalized(state string) {
	if m == nil {
		return
	}
	label := strings.ToLower(strings.TrimSpace(state))
	if label == "" {
		label = "unknown"
	}
	m.batchesFinalizedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncInstallerSubmission(result string) {
	if m == nil {
		return
	}
	label := strings.ToLower(strings.TrimSpace(result))
	if label == "" {
		label = "unknown"
	}
	m.installerSubmissionsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncPollIteration() {
	if m == nil {
		return
	}
	m.pollIterationsTotal.Inc()
}

func (m *Metrics) ObservePollDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.pollDuration.Observe(seconds)
}

func (m *Metrics) IncActivePollers() {
	if m == nil {
		return
	}
	m.activePollers.Inc()
}

func (m *Metrics) DecActivePollers() {
	if m == nil {
		return
	}
	m.activePollers.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
