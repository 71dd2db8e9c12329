// Package metrics defines the prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Link operation metrics
var (
	LinkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_link_attempts_total",
			Help: "Total link attempts by terminal outcome",
		},
		[]string{"result"}, // "success", "rate_limited", "server_not_found", "conflict", "invalid_credentials", "upstream_unavailable", "internal"
	)

	UnlinkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_unlink_total",
			Help: "Total unlink operations by terminal outcome",
		},
		[]string{"result"}, // "success", "not_found", "forbidden", "internal"
	)
)

// Rate limiter metrics - the fallback counter is the operator signal that
// the shared backend is degraded
var (
	RateLimiterFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamebridge_rate_limiter_fallback_total",
			Help: "Total rate limit checks served by the local fallback because the shared backend failed",
		},
	)

	RateLimiterRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamebridge_rate_limiter_rejected_total",
			Help: "Total rate limit checks that denied the request",
		},
	)
)

// Legacy database metrics
var (
	LegacyPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamebridge_legacy_pool_total_conns",
			Help: "Total connections in a legacy server pool",
		},
		[]string{"server_id"},
	)

	LegacyPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamebridge_legacy_pool_idle_conns",
			Help: "Idle connections in a legacy server pool",
		},
		[]string{"server_id"},
	)

	LegacyPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamebridge_legacy_pool_in_use_conns",
			Help: "Acquired connections in a legacy server pool",
		},
		[]string{"server_id"},
	)

	LegacyQueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_legacy_query_errors_total",
			Help: "Legacy database query errors by server",
		},
		[]string{"server_id", "error_type"}, // error_type: "timeout", "network", "query"
	)

	SecurityViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamebridge_security_violations_total",
			Help: "Non-SELECT statements rejected by the read-only guard; any nonzero value indicates a code defect",
		},
	)
)

// Audit metrics
var (
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamebridge_audit_events_total",
			Help: "Audit events by action",
		},
		[]string{"action"},
	)

	AuditFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamebridge_audit_failures_total",
			Help: "Audit sink write failures (swallowed, logged locally)",
		},
	)
)
