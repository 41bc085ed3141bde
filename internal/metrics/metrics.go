// Package metrics provides Prometheus instrumentation for the ATMGuard core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atmguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atmguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsStartedTotal counts ATM sessions started.
	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atmguard",
		Name:      "sessions_started_total",
		Help:      "Total ATM sessions started.",
	})

	// SessionsExpiredTotal counts sessions that timed out.
	SessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atmguard",
		Name:      "sessions_expired_total",
		Help:      "Total ATM sessions expired due to inactivity.",
	})

	// TransactionsTotal counts completed transactions by final status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atmguard",
			Name:      "transactions_total",
			Help:      "Total transactions by final status (completed, flagged, blocked).",
		},
		[]string{"status"},
	)

	// FraudChecksTotal counts fraud engine evaluations by decision.
	FraudChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atmguard",
			Name:      "fraud_checks_total",
			Help:      "Total fraud engine evaluations by action taken.",
		},
		[]string{"action"},
	)

	// CardsBlockedTotal counts card blocks by trigger.
	CardsBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atmguard",
			Name:      "cards_blocked_total",
			Help:      "Total cards blocked by trigger (pin_attempts, state_violations, fraud).",
		},
		[]string{"trigger"},
	)

	// PINFailuresTotal counts failed PIN verifications.
	PINFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atmguard",
		Name:      "pin_failures_total",
		Help:      "Total failed PIN verification attempts.",
	})

	// StateViolationsTotal counts out-of-order protocol steps.
	StateViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atmguard",
		Name:      "state_violations_total",
		Help:      "Total ATM steps attempted in an invalid session state.",
	})

	// ActiveSessions tracks sessions currently held in the registry.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atmguard",
		Name:      "active_sessions",
		Help:      "Number of sessions currently held in the in-memory registry.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atmguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atmguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atmguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsStartedTotal,
		SessionsExpiredTotal,
		TransactionsTotal,
		FraudChecksTotal,
		CardsBlockedTotal,
		PINFailuresTotal,
		StateViolationsTotal,
		ActiveSessions,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not raw path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
