package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			start := time.Now()
			err := next(ctx, call)
			fields := []zap.Field{
				zap.String("op", call.Op),
				zap.Duration("duration", time.Since(start)),
			}
			if call.JobID != "" {
				fields = append(fields, zap.String("job_id", call.JobID))
			}
			if call.JobClass != "" {
				fields = append(fields, zap.String("job_class", call.JobClass))
			}
			if err != nil {
				log.Debug("orchestrator call failed", append(fields, zap.Error(err))...)
				return err
			}
			log.Debug("orchestrator call", fields...)
			return nil
		}
	}
}
