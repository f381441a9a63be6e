// Package registry holds the application's view of sandbox sessions: which
// orchestrator jobs are expected to run and until when.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound means no session is recorded for the job.
var ErrSessionNotFound = errors.New("session not found")

// Session is the expected lifetime of one sandbox job.
type Session struct {
	JobID          string    `json:"job_id"`
	TunnelID       string    `json:"tunnel_id,omitempty"`
	SessionEndTime time.Time `json:"session_end_time"`
}

// Expired reports whether the session is over at now (end time inclusive).
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.SessionEndTime)
}

// SessionRegistry is what the reconciliation loop reads and the deletion path
// writes.
type SessionRegistry interface {
	// FindByJobID returns ErrSessionNotFound when no session matches.
	FindByJobID(ctx context.Context, jobID string) (Session, error)

	// ExpireSession closes the booking by moving its end time to at. Ending a
	// session that is already over, or absent, is not an error.
	ExpireSession(ctx context.Context, jobID string, at time.Time) error
}

// Store is a SessionRegistry that can also be written to directly.
type Store interface {
	SessionRegistry
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]Session, error)
}
