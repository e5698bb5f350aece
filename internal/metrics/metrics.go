// Package metrics provides Prometheus metrics for blazereport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blazereport"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts API requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Execution metrics
var (
	// ExecutionsTotal counts schedule runs by schedule type and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "runs_total",
			Help:      "Total number of schedule executions",
		},
		[]string{"type", "result"}, // result: ok or an error kind
	)

	// ExecutionDuration tracks wall time of a whole run.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Schedule execution duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type"},
	)

	// StateTransitionsTotal counts persisted state changes by target state.
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "state_transitions_total",
			Help:      "Total number of logged state transitions",
		},
		[]string{"state"},
	)
)

// Content metrics
var (
	// ContentDuration tracks artifact production latency by format.
	ContentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "duration_seconds",
			Help:      "Content production duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)

	// ContentFailuresTotal counts failed artifact productions by format.
	ContentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "failures_total",
			Help:      "Total number of content production failures",
		},
		[]string{"format", "kind"},
	)
)

// Notification metrics
var (
	// NotificationsSentTotal counts delivered notifications by channel.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total number of notifications sent",
		},
		[]string{"type"},
	)

	// NotificationsFailedTotal counts failed deliveries by channel and severity.
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failed_total",
			Help:      "Total number of failed notifications",
		},
		[]string{"type", "severity"},
	)

	// SlackMigrationsTotal counts legacy Slack recipient migrations by result.
	SlackMigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "slack_migrations_total",
			Help:      "Total number of Slack v1 to v2 recipient migrations",
		},
		[]string{"result"},
	)
)

// Scheduler metrics
var (
	// SchedulerWorkersActive tracks runs currently holding a worker slot.
	SchedulerWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "workers_active",
			Help:      "Number of schedule runs in progress",
		},
	)

	// SchedulerSkippedTotal counts triggers dropped because no worker was free.
	SchedulerSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "skipped_total",
			Help:      "Total number of triggers skipped for lack of a free worker",
		},
	)

	// SchedulerRegistered tracks how many schedules are registered with cron.
	SchedulerRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "schedules_registered",
			Help:      "Number of active schedules registered with the scheduler",
		},
	)

	// LogsPrunedTotal counts execution log entries removed by retention.
	LogsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "logs_pruned_total",
			Help:      "Total number of execution log entries pruned",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
