package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnel-reaper/metrics"
	"tunnel-reaper/orchestrator"
	"tunnel-reaper/registry"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, gw *fakeGateway, sessions registry.SessionRegistry, q Queue, clock *fakeClock, onTransition func(Task)) (*Scheduler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	s, err := New(Options{
		Connector:    fakeConnector{gw: gw},
		Sessions:     sessions,
		Queue:        q,
		Metrics:      m,
		Now:          clock.Now,
		OnTransition: onTransition,
	})
	require.NoError(t, err)
	return s, m
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Sessions: registry.NewMemRegistry(), Queue: &ListQueue{}})
	assert.Error(t, err)
}

func TestCleanupRetriesUntilSuccess(t *testing.T) {
	gw := &fakeGateway{results: map[string][]error{
		"ssh-client/dispatch-1": {transient(503), transient(500)},
	}}
	clock := &fakeClock{now: epoch}
	q := &ListQueue{}

	var (
		mu    sync.Mutex
		trail []Task
	)
	s, m := newTestScheduler(t, gw, registry.NewMemRegistry(), q, clock, func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		trail = append(trail, task)
	})

	ctx := context.Background()
	require.NoError(t, s.ScheduleCleanup(ctx, "ssh-client/dispatch-1", 0))

	failures := 0
	for q.Len() > 0 {
		entries := q.Drain()
		require.Len(t, entries, 1)
		e := entries[0]

		clock.Advance(e.Delay)
		failedAt := clock.Now()
		if err := s.Cleanup(ctx, e.Task); err != nil {
			failures++
			assert.ErrorIs(t, err, orchestrator.ErrTransient)

			retry := q.Drain()
			require.Len(t, retry, 1)
			assert.Equal(t, DefaultRetryDelay, retry[0].Delay)
			assert.False(t, retry[0].Task.DueAt.Before(failedAt.Add(2*time.Hour)))
			assert.Equal(t, e.Task.Attempt+1, retry[0].Task.Attempt)
			require.NoError(t, q.Enqueue(ctx, retry[0].Task, retry[0].Delay))
		}
	}
	assert.Equal(t, 2, failures)
	assert.Len(t, gw.calls(), 3)

	states := make([]State, 0, len(trail))
	for _, task := range trail {
		states = append(states, task.State)
	}
	assert.Equal(t, []State{
		StateScheduled, StateExecuting,
		StateScheduled, StateExecuting,
		StateScheduled, StateExecuting,
		StateDone,
	}, states)
	assert.Equal(t, 2, trail[len(trail)-1].Attempt)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CleanupAttempts.WithLabelValues(metrics.OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupAttempts.WithLabelValues(metrics.OutcomeDone)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MaxAttempt))
}

func TestCleanupTreatsMissingJobAsDone(t *testing.T) {
	gw := &fakeGateway{results: map[string][]error{
		"gone": {orchestrator.ErrJobNotFound},
	}}
	q := &ListQueue{}
	s, m := newTestScheduler(t, gw, registry.NewMemRegistry(), q, &fakeClock{now: epoch}, nil)

	require.NoError(t, s.Cleanup(context.Background(), Task{JobID: "gone"}))
	assert.Zero(t, q.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupAttempts.WithLabelValues(metrics.OutcomeNotFound)))
}

func TestCleanupIsIdempotent(t *testing.T) {
	gw := &fakeGateway{results: map[string][]error{
		"j1": {nil, orchestrator.ErrJobNotFound},
	}}
	q := &ListQueue{}
	s, _ := newTestScheduler(t, gw, registry.NewMemRegistry(), q, &fakeClock{now: epoch}, nil)

	ctx := context.Background()
	require.NoError(t, s.Cleanup(ctx, Task{JobID: "j1"}))
	require.NoError(t, s.Cleanup(ctx, Task{JobID: "j1"}))
	assert.Zero(t, q.Len())
	assert.Equal(t, []string{"j1", "j1"}, gw.calls())
}

func TestCleanupConnectFailureIsRetried(t *testing.T) {
	q := &ListQueue{}
	s, err := New(Options{
		Connector: fakeConnector{err: errors.New("no such host")},
		Sessions:  registry.NewMemRegistry(),
		Queue:     q,
		Now:       (&fakeClock{now: epoch}).Now,
	})
	require.NoError(t, err)

	err = s.Cleanup(context.Background(), Task{JobID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect orchestrator")

	entries := q.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Task.Attempt)
}

func TestCleanupReportsEnqueueFailure(t *testing.T) {
	gw := &fakeGateway{results: map[string][]error{"j1": {transient(502)}}}
	qerr := errors.New("queue full")
	s, m := newTestScheduler(t, gw, registry.NewMemRegistry(), failingQueue{err: qerr}, &fakeClock{now: epoch}, nil)

	err := s.Cleanup(context.Background(), Task{JobID: "j1"})
	assert.ErrorIs(t, err, orchestrator.ErrTransient)
	assert.ErrorIs(t, err, qerr)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupAttempts.WithLabelValues(metrics.OutcomeEnqueueFailed)))
}

func TestDeleteTunnel(t *testing.T) {
	clock := &fakeClock{now: epoch}
	sessions := registry.NewMemRegistry(registry.Session{
		JobID:          "ssh-client/dispatch-7",
		TunnelID:       "t7",
		SessionEndTime: epoch.Add(time.Hour),
	})
	q := &ListQueue{}
	s, _ := newTestScheduler(t, &fakeGateway{}, sessions, q, clock, nil)

	require.NoError(t, s.DeleteTunnel(context.Background(), "ssh-client/dispatch-7"))

	entries := q.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "ssh-client/dispatch-7", entries[0].Task.JobID)
	assert.Zero(t, entries[0].Delay)
	assert.Equal(t, StateScheduled, entries[0].Task.State)

	session, err := sessions.FindByJobID(context.Background(), "ssh-client/dispatch-7")
	require.NoError(t, err)
	assert.True(t, session.Expired(clock.Now()))
}

func TestDeleteTunnelWithoutSession(t *testing.T) {
	q := &ListQueue{}
	s, _ := newTestScheduler(t, &fakeGateway{}, registry.NewMemRegistry(), q, &fakeClock{now: epoch}, nil)

	require.NoError(t, s.DeleteTunnel(context.Background(), "unknown"))
	assert.Equal(t, 1, q.Len())
}
