package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests by method, route, status, and whether an org identity was attached
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status", "auth"},
	)

	// Latency of request/response routes. Partition event streams are excluded.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadrelay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds, event streams excluded",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Event stream sessions by route and how long viewers stayed connected
	httpStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadrelay_http_event_stream_duration_seconds",
			Help:    "Lifetime of partition event stream connections in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		},
		[]string{"route"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadrelay_http_inflight_requests",
			Help: "Number of HTTP requests currently being served, open event streams included",
		},
	)
)

// Metrics returns a Fiber v3 middleware that records Prometheus metrics.
// Labels use the matched route path so record and partition ids stay out of them.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		status := strconv.Itoa(c.Response().StatusCode())
		elapsed := time.Since(start).Seconds()

		httpRequestsTotal.With(prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": status,
			"auth":   authLabel(c),
		}).Inc()

		if isEventStream(route) {
			httpStreamDuration.WithLabelValues(route).Observe(elapsed)
			return err
		}
		httpRequestDuration.WithLabelValues(c.Method(), route, status).Observe(elapsed)

		return err
	}
}

func isEventStream(route string) bool {
	return strings.HasSuffix(route, "/events")
}

func authLabel(c fiber.Ctx) string {
	if _, ok := c.Locals(string(utils.OrgIDKey)).(uint); ok {
		return "org"
	}
	return "anonymous"
}
