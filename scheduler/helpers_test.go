package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"tunnel-reaper/orchestrator"
	"tunnel-reaper/registry"
)

// fakeGateway answers DeregisterJob from a scripted list of results, then nil.
type fakeGateway struct {
	mu         sync.Mutex
	jobs       []string
	listErr    error
	results    map[string][]error
	deregister []string
}

func (g *fakeGateway) DeregisterJob(_ context.Context, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deregister = append(g.deregister, jobID)
	rs := g.results[jobID]
	if len(rs) == 0 {
		return nil
	}
	g.results[jobID] = rs[1:]
	return rs[0]
}

func (g *fakeGateway) ListDeployments(_ context.Context, _ string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.jobs...), g.listErr
}

func (g *fakeGateway) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deregister...)
}

type fakeConnector struct {
	gw  orchestrator.Gateway
	err error
}

func (c fakeConnector) Connect(context.Context) (orchestrator.Gateway, error) {
	return c.gw, c.err
}

// brokenRegistry fails lookups for the listed jobs.
type brokenRegistry struct {
	*registry.MemRegistry
	broken map[string]bool
}

func (r brokenRegistry) FindByJobID(ctx context.Context, jobID string) (registry.Session, error) {
	if r.broken[jobID] {
		return registry.Session{}, errors.New("etcd: connection refused")
	}
	return r.MemRegistry.FindByJobID(ctx, jobID)
}

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, Task, time.Duration) error { return q.err }

func transient(status int) error {
	return &orchestrator.TransientError{Op: "deregister", Status: status}
}
