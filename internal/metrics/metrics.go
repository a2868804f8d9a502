// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package metrics provides Prometheus instrumentation for the pipeline:
// audit queue depth and flush outcomes, fallback usage, rate-limit decisions,
// threat detections, and validation failures.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Audit pipeline metrics
	AuditEventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_audit_events_enqueued_total",
			Help: "Total number of audit events accepted into the queue",
		},
	)

	AuditQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_audit_queue_length",
			Help: "Current number of audit events waiting to be flushed",
		},
	)

	AuditFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_audit_flushes_total",
			Help: "Total number of batch flushes by result",
		},
		[]string{"result"}, // "success", "failure", "breaker_open"
	)

	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_audit_flush_duration_seconds",
			Help:    "Duration of sink bulk writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditFallbackWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_audit_fallback_events_total",
			Help: "Total number of audit events redirected to the local fallback store",
		},
	)

	AuditFallbackEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_audit_fallback_evictions_total",
			Help: "Total number of oldest fallback events dropped at capacity",
		},
	)

	// Rate limiter metrics
	RateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ratelimit_checks_total",
			Help: "Total number of rate limit checks by outcome",
		},
		[]string{"blocked"}, // "true", "false"
	)

	RateLimitActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ratelimit_active_clients",
			Help: "Current number of tracked rate limit records",
		},
	)

	// Threat detection metrics
	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_threats_detected_total",
			Help: "Total number of threat detector hits by type",
		},
		[]string{"type"}, // "xss", "sql_injection", "suspicious_activity"
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_validation_failures_total",
			Help: "Total number of input validation failures by error code",
		},
		[]string{"code"},
	)

	// Security facade metrics
	SecurityViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_security_violations_total",
			Help: "Total number of recorded security violations by type",
		},
		[]string{"type"}, // "rate_limit", "invalid_input", "suspicious_activity"
	)

	BlockedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_blocked_clients",
			Help: "Current number of clients blocked by the security facade",
		},
	)
)

// RecordFlush records one flush outcome with its duration.
func RecordFlush(result string, duration time.Duration) {
	AuditFlushes.WithLabelValues(result).Inc()
	AuditFlushDuration.Observe(duration.Seconds())
}

// RecordRateLimitCheck records one limiter decision.
func RecordRateLimitCheck(blocked bool) {
	RateLimitChecks.WithLabelValues(strconv.FormatBool(blocked)).Inc()
}
