// Package ratelimit throttles requests per project with token buckets.
package ratelimit

import "context"

// Limiter reports whether one more request for key fits the budget. An
// error means the limiter itself failed; Middleware lets the request through.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter allows everything.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }
