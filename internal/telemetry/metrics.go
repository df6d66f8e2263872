// Package telemetry provides logging, metrics and error reporting for ConfigVault.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<CFV_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit trail events and dropped audit writes
//   - Public API reads by outcome
//   - Configuration upserts by result (created / updated)
//   - Database connection pool gauge (polled every 30 s)
//
// HTTP metrics use c.FullPath() (route template such as /api/config/:environment/map)
// rather than the raw request URL, so environment names and keys never become labels.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPRequestsTotal counts requests by method, route template and status code.
// HTTPRequestDuration observes latency by method and route template.
//
// Example PromQL queries:
//   - Error rate (%):        sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit trail metrics.
//
// AuditEventsTotal counts persisted audit entries by action and status (SUCCESS / FAILURE).
// AuditWriteFailuresTotal counts entries that could not be stored; a non-zero rate
// means the trail has gaps and should page someone.
//
// Example PromQL queries:
//   - Failed logins per hour:  increase(audit_events_total{action="LOGIN",status="FAILURE"}[1h])
//   - Alert expression:        increase(audit_write_failures_total[5m]) > 0
var (
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit entries written, by action and status.",
		},
		[]string{"action", "status"},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit entries dropped because the store rejected the write.",
		},
	)
)

// PublicConfigReadsTotal counts API-key reads by outcome (ok, unauthorized, not_found, error).
var PublicConfigReadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "public_config_reads_total",
		Help: "Total number of public configuration reads, by outcome.",
	},
	[]string{"outcome"},
)

// ConfigUpsertsTotal counts configuration upserts by result (created, updated).
var ConfigUpsertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "config_upserts_total",
		Help: "Total number of configuration upserts, by result.",
	},
	[]string{"result"},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <CFV_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// DBStatsInterval is the sampling period of StartDBStatsCollector.
var DBStatsInterval = 30 * time.Second

// StartDBStatsCollector samples sql.DB pool statistics until ctx is cancelled or the
// database becomes unreachable. It blocks; run it through safego.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(DBStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}
}
