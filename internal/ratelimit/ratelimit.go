// Package ratelimit bounds ingress per client with a sliding window. The
// window lives in memory for single-process deployments and in Redis when
// several API processes share the limit.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set when the request was refused.
	RetryAfter time.Duration
}

// Store counts requests per key inside a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Limiter applies one limit to a class of requests.
type Limiter struct {
	store  Store
	class  string
	limit  int
	window time.Duration
}

// NewLimiter returns nil when limit is not positive, which disables limiting.
func NewLimiter(store Store, class string, limit int, window time.Duration) *Limiter {
	if limit <= 0 || store == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, class: class, limit: limit, window: window}
}

// Allow checks one request from client. A nil limiter admits everything.
func (l *Limiter) Allow(ctx context.Context, client string) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	return l.store.Allow(ctx, l.class+":"+client, l.limit, l.window)
}
