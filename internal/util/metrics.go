package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Total number of committed ledger transactions",
	}, []string{"type"})

	LedgerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_failures_total",
		Help: "Total number of rejected or failed ledger operations",
	}, []string{"reason"})

	PointsEarnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_earned_total",
		Help: "Total number of points credited",
	})

	PointsSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_spent_total",
		Help: "Total number of points debited",
	})

	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of committed checkouts",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout operations",
		Buckets: prometheus.DefBuckets,
	})

	CheckoutReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_replays_total",
		Help: "Total number of checkouts answered from the receipt idempotency cache",
	})

	SessionCodesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_codes_issued_total",
		Help: "Total number of session codes issued",
	})

	SessionCodeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_code_collisions_total",
		Help: "Total number of generated session codes that collided with an active code",
	})

	SessionCodesThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_codes_throttled_total",
		Help: "Total number of session code requests rejected by the issue limiter",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of checkout notifications handed to a sink",
	}, []string{"sink"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of checkout notifications that failed",
	}, []string{"sink"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
