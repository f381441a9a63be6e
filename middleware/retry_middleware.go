package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryMiddleware retries calls failing with a retryable error, doubling the
// delay each time. It smooths over short blips inside one cleanup attempt;
// longer outages are left to the scheduler's own retry.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return err
				}
				log.Debug("retrying orchestrator call",
					zap.String("op", call.Op),
					zap.Int("retry", i+1),
					zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i)) // Exponential backoff
				select {
				case <-ctx.Done():
					timer.Stop()
					return err
				case <-timer.C:
				}
				err = next(ctx, call)
			}
			return err
		}
	}
}
