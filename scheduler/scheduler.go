// Package scheduler keeps the orchestrator's live sandbox jobs in line with
// the recorded sessions.
//
// Two paths lead to a cleanup task:
//   - explicit deletion (DeleteTunnel): a tunnel is removed by a user or admin
//   - reconciliation (ReconcileAll): a periodic sweep finds jobs whose session
//     is over or missing
//
// Deregistration is idempotent, so both paths may race on the same job. A
// cleanup that hits a transient orchestrator error is re-enqueued after a
// fixed delay with no attempt cap; attempt numbers are exported as metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tunnel-reaper/metrics"
	"tunnel-reaper/orchestrator"
	"tunnel-reaper/registry"
)

// DefaultRetryDelay is the fixed backoff between cleanup attempts.
const DefaultRetryDelay = 2 * time.Hour

type Options struct {
	Connector GatewayConnector
	Sessions  registry.SessionRegistry
	Queue     Queue

	// JobClass is the orchestrator job whose deployments are swept.
	JobClass string

	RetryDelay   time.Duration
	Interval     time.Duration // between sweeps
	Jitter       time.Duration // random extra delay per sweep
	SweepTimeout time.Duration

	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
	OnTransition func(Task)
}

type Scheduler struct {
	connector GatewayConnector
	sessions  registry.SessionRegistry
	queue     Queue

	jobClass     string
	retryDelay   time.Duration
	interval     time.Duration
	jitter       time.Duration
	sweepTimeout time.Duration

	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	onTransition func(Task)

	maxAttempt atomic.Int64
}

// New creates a scheduler. Connector, Sessions and Queue are required.
func New(opts Options) (*Scheduler, error) {
	if opts.Connector == nil || opts.Sessions == nil || opts.Queue == nil {
		return nil, errors.New("scheduler needs a connector, a session registry and a queue")
	}
	if opts.JobClass == "" {
		opts.JobClass = "ssh-client"
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = 100 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		connector:    opts.Connector,
		sessions:     opts.Sessions,
		queue:        opts.Queue,
		jobClass:     opts.JobClass,
		retryDelay:   opts.RetryDelay,
		interval:     opts.Interval,
		jitter:       opts.Jitter,
		sweepTimeout: opts.SweepTimeout,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		onTransition: opts.OnTransition,
	}, nil
}

func (s *Scheduler) transition(t Task) {
	if s.onTransition != nil {
		s.onTransition(t)
	}
}

// ScheduleCleanup enqueues the first attempt of a cleanup for jobID.
func (s *Scheduler) ScheduleCleanup(ctx context.Context, jobID string, delay time.Duration) error {
	now := s.now()
	task := Task{
		JobID:       jobID,
		ScheduledAt: now,
		DueAt:       now.Add(delay),
		State:       StateScheduled,
	}
	s.transition(task)

	if err := s.queue.Enqueue(ctx, task, delay); err != nil {
		s.metrics.CleanupAttempts.WithLabelValues(metrics.OutcomeEnqueueFailed).Inc()
		return fmt.Errorf("enqueue cleanup %s: %w", jobID, err)
	}
	return nil
}

// Cleanup executes one attempt of task. On a transient failure the next
// attempt is enqueued RetryDelay from now and the failure is returned so the
// queue records it.
func (s *Scheduler) Cleanup(ctx context.Context, task Task) error {
	task.State = StateExecuting
	s.transition(task)
	s.metrics.CleanupAttempt.Observe(float64(task.Attempt))

	err := s.deregister(ctx, task.JobID)
	outcome := orchestrator.Classify(err)
	if outcome != orchestrator.OutcomeTransient {
		task.State = StateDone
		s.transition(task)
		s.metrics.CleanupAttempts.WithLabelValues(outcome.String()).Inc()
		s.log.Info("sandbox job deregistered",
			zap.String("job_id", task.JobID),
			zap.Int("attempt", task.Attempt),
			zap.Stringer("outcome", outcome))
		return nil
	}

	now := s.now()
	next := Task{
		JobID:       task.JobID,
		ScheduledAt: now,
		DueAt:       now.Add(s.retryDelay),
		Attempt:     task.Attempt + 1,
		State:       StateScheduled,
	}
	s.transition(next)
	s.metrics.CleanupAttempts.WithLabelValues(metrics.OutcomeRetry).Inc()
	s.observeAttempt(next.Attempt)

	s.log.Warn("sandbox job cleanup failed, rescheduled",
		zap.String("job_id", task.JobID),
		zap.Int("attempt", task.Attempt),
		zap.Duration("retry_in", s.retryDelay),
		zap.Error(err))

	failure := fmt.Errorf("cleanup %s (attempt %d): %w", task.JobID, task.Attempt, err)

	// the attempt's context may already be spent by the failed call
	if qerr := s.queue.Enqueue(context.WithoutCancel(ctx), next, s.retryDelay); qerr != nil {
		s.metrics.CleanupAttempts.WithLabelValues(metrics.OutcomeEnqueueFailed).Inc()
		s.log.Error("cleanup retry could not be enqueued",
			zap.String("job_id", task.JobID),
			zap.Int("attempt", next.Attempt),
			zap.Error(qerr))
		return multierr.Append(failure, fmt.Errorf("reschedule: %w", qerr))
	}
	return failure
}

func (s *Scheduler) deregister(ctx context.Context, jobID string) error {
	gw, err := s.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect orchestrator: %w", err)
	}
	return gw.DeregisterJob(ctx, jobID)
}

func (s *Scheduler) observeAttempt(attempt int) {
	for {
		cur := s.maxAttempt.Load()
		if int64(attempt) <= cur {
			return
		}
		if s.maxAttempt.CompareAndSwap(cur, int64(attempt)) {
			s.metrics.MaxAttempt.Set(float64(attempt))
			return
		}
	}
}

// DeleteTunnel is the explicit deletion path: the job is queued for immediate
// cleanup and its session is closed. Both steps run even if one fails.
func (s *Scheduler) DeleteTunnel(ctx context.Context, jobID string) error {
	err := s.ScheduleCleanup(ctx, jobID, 0)
	if xerr := s.sessions.ExpireSession(ctx, jobID, s.now()); xerr != nil {
		err = multierr.Append(err, fmt.Errorf("expire session %s: %w", jobID, xerr))
	}
	if err == nil {
		s.log.Info("tunnel deleted", zap.String("job_id", jobID))
	}
	return err
}
