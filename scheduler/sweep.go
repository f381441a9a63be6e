package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tunnel-reaper/metrics"
	"tunnel-reaper/registry"
)

// SweepResult lists the jobs of one sweep by verdict. Failed holds jobs whose
// session lookup or cleanup enqueue failed; they are picked up again by the
// next sweep.
type SweepResult struct {
	Running  []string `json:"running"`
	Expired  []string `json:"expired"`
	Orphaned []string `json:"orphaned"`
	Failed   []string `json:"failed"`
}

// ReconcileAll compares the orchestrator's live jobs of the job class with the
// recorded sessions and queues a cleanup for every job whose session is over
// or missing. Only a failure to list the jobs aborts the sweep.
func (s *Scheduler) ReconcileAll(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	start := time.Now()
	defer func() {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	gw, err := s.connector.Connect(ctx)
	if err != nil {
		s.metrics.SweepFailures.Inc()
		return res, fmt.Errorf("sweep: connect orchestrator: %w", err)
	}
	jobIDs, err := gw.ListDeployments(ctx, s.jobClass)
	if err != nil {
		s.metrics.SweepFailures.Inc()
		return res, fmt.Errorf("sweep: list %s deployments: %w", s.jobClass, err)
	}

	var errs error
	for _, jobID := range jobIDs {
		// the class job is the dispatch template of every sandbox
		if jobID == s.jobClass {
			continue
		}
		now := s.now()

		verdict := metrics.VerdictRunning
		session, err := s.sessions.FindByJobID(ctx, jobID)
		switch {
		case errors.Is(err, registry.ErrSessionNotFound):
			verdict = metrics.VerdictOrphaned
		case err != nil:
			s.metrics.SweepJobs.WithLabelValues(metrics.VerdictLookupError).Inc()
			s.log.Warn("session lookup failed, skipping job", zap.String("job_id", jobID), zap.Error(err))
			res.Failed = append(res.Failed, jobID)
			continue
		case session.Expired(now):
			verdict = metrics.VerdictExpired
		}
		s.metrics.SweepJobs.WithLabelValues(verdict).Inc()

		if verdict == metrics.VerdictRunning {
			res.Running = append(res.Running, jobID)
			continue
		}

		s.log.Info("stale sandbox job", zap.String("job_id", jobID), zap.String("verdict", verdict))
		if err := s.ScheduleCleanup(ctx, jobID, 0); err != nil {
			errs = multierr.Append(errs, err)
			res.Failed = append(res.Failed, jobID)
			continue
		}
		if verdict == metrics.VerdictOrphaned {
			res.Orphaned = append(res.Orphaned, jobID)
		} else {
			res.Expired = append(res.Expired, jobID)
		}
	}

	s.log.Info("sweep finished",
		zap.Int("jobs", len(jobIDs)),
		zap.Int("expired", len(res.Expired)),
		zap.Int("orphaned", len(res.Orphaned)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("took", time.Since(start)))
	return res, errs
}

// Run sweeps once immediately, then every Interval plus up to Jitter, until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.jitter > 0 {
				delay := time.Duration(rand.Int64N(int64(s.jitter)))
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.sweepTimeout)
	defer cancel()

	if _, err := s.ReconcileAll(ctx); err != nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
}
