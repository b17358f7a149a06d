// Package metrics provides Prometheus metrics for the portal. All metrics use
// the "statspack" namespace and are registered with the default registry via
// promauto, so they are scraped on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statspack"

var (
	// LoginAttemptsTotal counts login attempts by outcome.
	// outcome: success | invalid_credentials | locked_out | banned | disabled | error
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LockoutsTotal counts accounts entering lockout.
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Total number of account lockouts.",
		},
	)

	// RecoveryStepsTotal counts password recovery transitions by step and outcome.
	RecoveryStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "recovery_steps_total",
			Help:      "Total number of password recovery steps by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	// ReconcileTotal counts subscription reconciliation passes by result.
	// result: unchanged | healed | skipped | error
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconcile_total",
			Help:      "Total number of subscription reconciliation passes by result.",
		},
		[]string{"result"},
	)

	// ProviderRequestDuration tracks billing provider call latency by operation.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "provider_request_duration_seconds",
			Help:      "Billing provider request latency in seconds by operation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// WebhookEventsTotal counts received billing webhook events by type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of billing webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// AuditWriteFailuresTotal counts audit entries that could not be stored.
	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of audit entries that failed to persist.",
		},
	)

	// AdminActionsTotal counts gated admin actions by action and outcome.
	AdminActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "actions_total",
			Help:      "Total number of admin actions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// HTTPRequestsTotal counts HTTP requests by route pattern, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RateLimitedTotal counts requests rejected by the per-client limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter by route.",
		},
		[]string{"route"},
	)
)
