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

// Metrics stores Prometheus collectors used by the API, the dispatch workers,
// and the event broadcaster.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	attemptsCreatedTotal     prometheus.Counter
	transitionsTotal         *prometheus.CounterVec
	transitionsRejectedTotal *prometheus.CounterVec
	dispatchDuration         prometheus.Histogram
	dispatchesFailedTotal    prometheus.Counter
	eventsPublishedTotal     prometheus.Counter
	observersConnected       prometheus.Gauge
	observersDroppedTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "phishsim",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		attemptsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "attempts_created_total",
				Help:      "Total number of phishing attempts created.",
			},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "transitions_total",
				Help:      "Total number of accepted lifecycle transitions by resulting status.",
			},
			[]string{"status"},
		),
		transitionsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "transitions_rejected_total",
				Help:      "Total number of rejected lifecycle transitions by reason.",
			},
			[]string{"reason"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "phishsim",
				Name:      "dispatch_duration_seconds",
				Help:      "Mail gateway send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		dispatchesFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "dispatches_failed_total",
				Help:      "Total number of gateway dispatches that ended in failed state.",
			},
		),
		eventsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "events_published_total",
				Help:      "Total number of lifecycle events published to observers.",
			},
		),
		observersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "phishsim",
				Name:      "observers_connected",
				Help:      "Current number of connected event feed observers.",
			},
		),
		observersDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "phishsim",
				Name:      "observers_dropped_total",
				Help:      "Total number of observers dropped for not accepting events in time.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.attemptsCreatedTotal,
		m.transitionsTotal,
		m.transitionsRejectedTotal,
		m.dispatchDuration,
		m.dispatchesFailedTotal,
		m.eventsPublishedTotal,
		m.observersConnected,
		m.observersDroppedTotal,
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

func (m *Metrics) IncAttemptCreated() {
	if m == nil {
		return
	}
	m.attemptsCreatedTotal.Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncTransitionRejected(reason string) {
	if m == nil {
		return
	}
	m.transitionsRejectedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveDispatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.Observe(seconds)
}

func (m *Metrics) IncDispatchFailed() {
	if m == nil {
		return
	}
	m.dispatchesFailedTotal.Inc()
}

func (m *Metrics) IncEventPublished() {
	if m == nil {
		return
	}
	m.eventsPublishedTotal.Inc()
}

func (m *Metrics) IncObserverConnected() {
	if m == nil {
		return
	}
	m.observersConnected.Inc()
}

func (m *Metrics) DecObserverConnected() {
	if m == nil {
		return
	}
	m.observersConnected.Dec()
}

func (m *Metrics) IncObserverDropped() {
	if m == nil {
		return
	}
	m.observersDroppedTotal.Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
