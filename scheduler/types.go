package scheduler

import (
	"context"
	"time"

	"tunnel-reaper/orchestrator"
)

// State of a cleanup task.
//
//	Scheduled --(due)--> Executing --(ok or not found)--> Done
//	Executing --(transient error)--> Scheduled(attempt+1, RetryDelay)
type State int

const (
	StateScheduled State = iota
	StateExecuting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Task is one deregistration of an orchestrator job. Attempt counts previous
// failed executions.
type Task struct {
	JobID       string
	ScheduledAt time.Time
	DueAt       time.Time
	Attempt     int
	State       State
}

// Queue eventually hands every enqueued task to the cleanup handler, no
// earlier than delay after enqueueing.
type Queue interface {
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
}

// Handler executes one task.
type Handler func(ctx context.Context, task Task) error

// GatewayConnector builds a gateway bound to the current orchestrator
// address.
type GatewayConnector interface {
	Connect(ctx context.Context) (orchestrator.Gateway, error)
}
