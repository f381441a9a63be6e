package orchestrator

import (
	"context"

	"tunnel-reaper/middleware"
)

// instrumented routes every Gateway call through a middleware chain.
type instrumented struct {
	next    Gateway
	chained middleware.Middleware
}

// Instrument wraps gw so that each call passes through mws in order.
func Instrument(gw Gateway, mws ...middleware.Middleware) Gateway {
	if len(mws) == 0 {
		return gw
	}
	return &instrumented{next: gw, chained: middleware.Chain(mws...)}
}

func (g *instrumented) DeregisterJob(ctx context.Context, jobID string) error {
	call := &middleware.Call{Op: "deregister", JobID: jobID}
	return g.chained(func(ctx context.Context, call *middleware.Call) error {
		return g.next.DeregisterJob(ctx, call.JobID)
	})(ctx, call)
}

func (g *instrumented) ListDeployments(ctx context.Context, jobClass string) ([]string, error) {
	var ids []string
	call := &middleware.Call{Op: "list", JobClass: jobClass}
	err := g.chained(func(ctx context.Context, call *middleware.Call) error {
		var err error
		ids, err = g.next.ListDeployments(ctx, call.JobClass)
		return err
	})(ctx, call)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
