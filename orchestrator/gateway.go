// Package orchestrator talks to the cluster scheduler that runs sandbox jobs.
//
// Only two operations are needed: deregistering one job and listing the live
// jobs of a job class. Deregistration is idempotent from the caller's point
// of view: a job that is already gone is reported as ErrJobNotFound, which
// callers treat as success. Every other failure is a *TransientError.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound means the job does not exist (any more).
	ErrJobNotFound = errors.New("job not found")

	// ErrTransient matches every *TransientError.
	ErrTransient = errors.New("transient orchestrator error")
)

// Gateway is the job-control surface of the orchestrator.
type Gateway interface {
	DeregisterJob(ctx context.Context, jobID string) error
	ListDeployments(ctx context.Context, jobClass string) ([]string, error)
}

// TransientError is any orchestrator failure other than a missing job:
// network errors, timeouts, 5xx, auth failures.
type TransientError struct {
	Op     string
	JobID  string
	Status int // HTTP status, 0 when no response was received
	Cause  error
}

func (e *TransientError) Error() string {
	msg := e.Op
	if e.JobID != "" {
		msg += " " + e.JobID
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg + ": " + ErrTransient.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// Outcome is the scheduler-facing classification of a deregistration.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeNotFound
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// Classify maps a deregistration error to its outcome. Anything that is not
// nil or ErrJobNotFound is transient.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, ErrJobNotFound):
		return OutcomeNotFound
	default:
		return OutcomeTransient
	}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == OutcomeTransient
}
