// Package middleware wraps orchestrator calls with cross-cutting behaviour
// (logging, timeouts, rate limiting, short in-call retries).
//
// Chain(A, B, C)(handler) → A(B(C(handler))), so A sees the call first.
package middleware

import (
	"context"
)

// Call describes one orchestrator operation.
type Call struct {
	Op       string // "deregister" or "list"
	JobID    string
	JobClass string
}

type HandlerFunc func(ctx context.Context, call *Call) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
