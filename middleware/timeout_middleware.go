package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a call outlives its budget.
var ErrTimeout = errors.New("orchestrator call timed out")

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, ctx.Err())
			}
		}
	}
}
