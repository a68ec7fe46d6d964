package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelboot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panelboot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Bootstrap metrics
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panelboot_step_duration_seconds",
			Help:    "Duration of each bootstrap step in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
		},
		[]string{"step"},
	)

	databasesProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelboot_databases_provisioned_total",
			Help: "Database provisioning attempts by outcome",
		},
		[]string{"outcome"}, // created, exists, error
	)

	// Restore metrics
	restoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panelboot_restores_total",
			Help: "Total number of backup restore operations",
		},
		[]string{"status"}, // success, failure, skipped
	)

	restoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "panelboot_restore_duration_seconds",
			Help:    "Backup restore duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600},
		},
	)

	restoreBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "panelboot_restore_bytes",
			Help: "Decompressed size of the last restored backup in bytes",
		},
	)

	// Credential reset metrics
	passwordsReset = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panelboot_passwords_reset_total",
			Help: "Total number of user passwords reset to the default",
		},
	)

	sessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "panelboot_sessions_purged_total",
			Help: "Total number of cached sessions invalidated",
		},
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// ObserveStep records the duration of one bootstrap step
func ObserveStep(step string, d time.Duration) {
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordProvision counts one provisioning attempt by outcome
func RecordProvision(outcome string) {
	databasesProvisioned.WithLabelValues(outcome).Inc()
}

// RecordRestore records restore metrics
func RecordRestore(status string, duration time.Duration, sizeBytes int64) {
	restoresTotal.WithLabelValues(status).Inc()
	if status == "success" {
		restoreDuration.Observe(duration.Seconds())
		restoreBytes.Set(float64(sizeBytes))
	}
}

// AddPasswordsReset counts users whose password was reset
func AddPasswordsReset(n int64) {
	passwordsReset.Add(float64(n))
}

// AddSessionsPurged counts invalidated sessions
func AddSessionsPurged(n int64) {
	sessionsPurged.Add(float64(n))
}
