package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route groups reported on the HTTP metrics
const (
	GroupBeacon = "beacon"
	GroupAPI    = "api"
	GroupAdmin  = "admin"
	GroupOps    = "ops"
)

// unmatchedRoute replaces the raw path of requests no route matched, so 404 scans stay one series
const unmatchedRoute = "unmatched"

// beacons and redirects are expected well under 50ms; inline webhook processing can take seconds
var latencyBuckets = []float64{.002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "group", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"method", "group", "route", "status"},
	)

	httpInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
		[]string{"group"},
	)
)

// RouteGroup classifies a request path into the relay's surfaces
func RouteGroup(path string) string {
	switch {
	case path == "/pixel.gif" || path == "/redirect":
		return GroupBeacon
	case path == "/admin" || strings.HasPrefix(path, "/admin/"):
		return GroupAdmin
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return GroupAPI
	}
	return GroupOps
}

// Metrics records request counts, latencies and in-flight requests per route group
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		group := RouteGroup(c.Path())
		inFlight := httpInFlight.WithLabelValues(group)
		inFlight.Inc()
		defer inFlight.Dec()

		err := c.Next()

		route := unmatchedRoute
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		// catch-all middleware reports "/" for anything that fell through
		if route == "/" && c.Path() != "/" {
			route = unmatchedRoute
		}

		elapsed := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		httpRequestsTotal.WithLabelValues(c.Method(), group, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), group, route, status).Observe(elapsed)
		return err
	}
}
