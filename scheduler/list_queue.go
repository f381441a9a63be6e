package scheduler

import (
	"context"
	"sync"
	"time"
)

// Entry is one recorded enqueue.
type Entry struct {
	Task  Task
	Delay time.Duration
}

// ListQueue records enqueued tasks without running them. One-shot commands
// drain it and run the due tasks themselves.
type ListQueue struct {
	mu      sync.Mutex
	entries []Entry
}

func (q *ListQueue) Enqueue(_ context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{Task: task, Delay: delay})
	return nil
}

// Drain returns and forgets every recorded entry.
func (q *ListQueue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

func (q *ListQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
