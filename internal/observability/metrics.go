package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here. A relay process therefore
// exposes the control plane series with zero values, which is harmless.

// namespace defines the global prefix for all metrics (e.g., booker_...).
const namespace = "booker"

// lowLatencyBuckets is used for in-memory work such as rule evaluation.
// Range: 100µs to 100ms.
var lowLatencyBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .010, .025, .050, .100}

// Admission outcomes used as the "outcome" label.
const (
	OutcomeAccepted      = "accepted"
	OutcomeConflict      = "conflict"
	OutcomeRejected      = "rule_violation"
	OutcomeInvalid       = "invalid"
	OutcomeNotFound      = "not_found"
	OutcomeCancelled     = "already_cancelled"
	OutcomeStoreError    = "store_error"
	OutcomeInternalError = "error"
)

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: booker_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: booker_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// ADMISSION
	// -------------------------------------------------------------------------

	// AdmissionDecisionsTotal counts admission units by operation and outcome.
	// Metric: booker_admission_decisions_total
	AdmissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Total admission decisions by operation and outcome",
	}, []string{"operation", "outcome"})

	// AdmissionDuration measures a whole admission unit, transaction included.
	// Metric: booker_admission_duration_seconds
	AdmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "duration_seconds",
		Help:      "Time taken by an admission unit of work",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// RuleEvaluationDuration measures the pure rule evaluation step.
	// Metric: booker_admission_rule_evaluation_seconds
	RuleEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rule_evaluation_seconds",
		Help:      "Time taken to evaluate the active rule set against a proposal",
		Buckets:   lowLatencyBuckets,
	})

	// RuleEvaluationScore records the score of accepted proposals.
	RuleEvaluationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "score",
		Help:      "Score of evaluated proposals",
		Buckets:   []float64{-50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	// -------------------------------------------------------------------------
	// RELAY (Workers)
	// -------------------------------------------------------------------------

	// RelayJobDuration measures freshness: latency from announcement insert to publish.
	// Metric: booker_relay_job_processing_duration_seconds
	RelayJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "job_processing_duration_seconds",
		Help:      "End-to-end latency from announcement creation to publication",
		Buckets:   prometheus.DefBuckets,
	})

	RelayJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "jobs_total",
		Help:      "Total announcements processed by the relay",
	}, []string{"status"}) // success, fail, duplicate

	RelayBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "backlog",
		Help:      "Announcements waiting to be dispatched",
	})

	RelayDedupeEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "dedupe_entries",
		Help:      "Announcement ids held in the dedupe cache",
	})

	RedisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_queue_depth",
		Help:      "Current number of items in the announcement queue",
	})

	// DependencyUp mirrors the last readiness check: 1 when the dependency
	// answered, 0 otherwise.
	DependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dependency_up",
		Help:      "Result of the last readiness check per dependency",
	}, []string{"dependency"})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	DBPoolAcquiredConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "acquired_connections",
		Help:      "Connections currently in use",
	})

	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "idle_connections",
		Help:      "Connections currently idle",
	})

	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "total_connections",
		Help:      "Connections currently open",
	})

	DBPoolMaxConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "max_connections",
		Help:      "Configured maximum pool size",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Cumulative number of acquires that waited for a connection",
	})
)
