// Package metrics defines the Prometheus collectors of the reaper. Retry
// attempts are exported so unbounded cleanup retries stay visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tunnel_reaper"

// cleanup outcomes
const (
	OutcomeDone          = "done"
	OutcomeNotFound      = "not_found"
	OutcomeRetry         = "retry"
	OutcomeEnqueueFailed = "enqueue_failed"
)

// sweep verdicts
const (
	VerdictRunning     = "running"
	VerdictExpired     = "expired"
	VerdictOrphaned    = "orphaned"
	VerdictLookupError = "lookup_error"
)

type Metrics struct {
	CleanupAttempts *prometheus.CounterVec
	CleanupAttempt  prometheus.Histogram
	MaxAttempt      prometheus.Gauge
	PendingTasks    prometheus.Gauge

	SweepJobs     *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	SweepFailures prometheus.Counter

	DiscoveryLookups *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CleanupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_attempts_total",
			Help:      "Cleanup task executions by outcome.",
		}, []string{"outcome"}),
		CleanupAttempt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_attempt",
			Help:      "Attempt number of executed cleanup tasks (0 = first try).",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 24, 48},
		}),
		MaxAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cleanup_max_attempt",
			Help:      "Highest attempt number scheduled so far.",
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_tasks",
			Help:      "Cleanup tasks waiting in the in-process queue.",
		}),
		SweepJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_jobs_total",
			Help:      "Jobs seen by reconciliation sweeps by verdict.",
		}, []string{"verdict"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reconciliation sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweeps that could not list the orchestrator's jobs.",
		}),
		DiscoveryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_lookups_total",
			Help:      "Service discovery lookups by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CleanupAttempts,
			m.CleanupAttempt,
			m.MaxAttempt,
			m.PendingTasks,
			m.SweepJobs,
			m.SweepDuration,
			m.SweepFailures,
			m.DiscoveryLookups,
		)
	}
	return m
}

// ObserveLookup fits discovery.Config.OnLookup.
func (m *Metrics) ObserveLookup(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DiscoveryLookups.WithLabelValues(result).Inc()
}
