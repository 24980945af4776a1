package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware wraps a Handler with extra behaviour.
type Middleware func(next Handler) Handler

// Chain composes middlewares so that Chain(a, b)(h) runs a, then b, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware logs every invocation with its duration, and its error if
// it failed.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) (interface{}, error) {
			start := time.Now()
			ret, err := next(ctx, inv)

			fields := []zap.Field{
				zap.String("method", inv.Method),
				zap.Int("args", len(inv.Args)),
				zap.Duration("duration", time.Since(start)),
			}

			if err != nil {
				log.Warn("Invocation failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("Invoked", fields...)
			}

			return ret, err
		}
	}
}

// RateLimitMiddleware admits invocations through a token bucket refilled at r
// per second with the given burst. Rejected invocations fail with ErrRateLimited.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)

	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) (interface{}, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, inv)
		}
	}
}
