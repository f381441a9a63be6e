package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRegistry is an in-memory Store.
type MemRegistry struct {
	mu   sync.RWMutex
	data map[string]Session
}

func NewMemRegistry(sessions ...Session) *MemRegistry {
	r := &MemRegistry{data: make(map[string]Session)}
	for _, s := range sessions {
		r.data[s.JobID] = s
	}
	return r
}

func (r *MemRegistry) FindByJobID(_ context.Context, jobID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.data[jobID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemRegistry) ExpireSession(_ context.Context, jobID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.data[jobID]
	if !ok || s.Expired(at) {
		return nil
	}
	s.SessionEndTime = at
	r.data[jobID] = s
	return nil
}

func (r *MemRegistry) Save(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.JobID] = s
	return nil
}

func (r *MemRegistry) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, jobID)
	return nil
}

// List returns sessions ordered by job ID.
func (r *MemRegistry) List(_ context.Context) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.data))
	for _, s := range r.data {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}
