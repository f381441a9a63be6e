package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tunnel-reaper/metrics"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

type MemQueueOptions struct {
	Workers int           // default 4
	Buffer  int           // ready-task channel size, default 256
	Timeout time.Duration // per task, default 60s
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// MemQueue is an in-process delayed queue: each task waits on its own timer,
// then goes to a channel drained by a worker pool. Tasks still waiting when
// the queue closes are lost; the next sweep finds their jobs again.
type MemQueue struct {
	opts  MemQueueOptions
	tasks chan Task
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	timers    map[*time.Timer]struct{}
	pending   atomic.Int64
}

func NewMemQueue(opts MemQueueOptions) *MemQueue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &MemQueue{
		opts:   opts,
		tasks:  make(chan Task, opts.Buffer),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue delivers task after delay. Zero-delay tasks block until there is
// room in the buffer, ctx ends or the queue closes.
func (q *MemQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	q.addPending(1)

	if delay <= 0 {
		select {
		case q.tasks <- task:
			return nil
		case <-ctx.Done():
			q.addPending(-1)
			return ctx.Err()
		case <-q.done:
			q.addPending(-1)
			return ErrQueueClosed
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Close may have run since the check above; it stops only the timers it
	// finds under q.mu.
	select {
	case <-q.done:
		q.addPending(-1)
		return ErrQueueClosed
	default:
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		select {
		case <-q.done:
			q.addPending(-1)
			return
		default:
		}
		select {
		case q.tasks <- task:
		case <-q.done:
			q.addPending(-1)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Pending returns the number of tasks enqueued but not yet picked by a worker.
func (q *MemQueue) Pending() int {
	return int(q.pending.Load())
}

func (q *MemQueue) addPending(n int64) {
	v := q.pending.Add(n)
	q.opts.Metrics.PendingTasks.Set(float64(v))
}

// Run hands tasks to handler from Workers goroutines until ctx is done, then
// closes the queue.
func (q *MemQueue) Run(ctx context.Context, handler Handler) error {
	defer q.Close()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			q.work(ctx, id, handler)
			return nil
		})
	}
	return g.Wait()
}

func (q *MemQueue) work(ctx context.Context, id int, handler Handler) {
	log := q.opts.Logger.With(zap.Int("worker", id))
	log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.addPending(-1)

			tctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
			err := handler(tctx, task)
			cancel()

			if err != nil {
				log.Debug("task failed", zap.String("job_id", task.JobID), zap.Int("attempt", task.Attempt), zap.Error(err))
			}
		}
	}
}

// Close stops pending timers and rejects further tasks.
func (q *MemQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		stopped := 0
		for t := range q.timers {
			if t.Stop() {
				stopped++
			}
		}
		q.timers = make(map[*time.Timer]struct{})
		q.mu.Unlock()

		if stopped > 0 {
			q.addPending(int64(-stopped))
		}
		if n := q.Pending(); n > 0 || stopped > 0 {
			q.opts.Logger.Warn("queue closed with undelivered tasks",
				zap.Int("delayed", stopped),
				zap.Int("ready", len(q.tasks)))
		}
	})
}
