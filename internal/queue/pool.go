package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultDequeueBackoff    = 500 * time.Millisecond
	defaultMaxDequeueBackoff = 30 * time.Second
)

// Pool runs Concurrency workers pulling from a queue.
type Pool struct {
	queue       Queue
	handler     Handler
	concurrency int
	logger      *slog.Logger
	backoff     time.Duration
	maxBackoff  time.Duration
}

type PoolOption func(*Pool)

// WithDequeueBackoff sets the pause after a failed dequeue. It doubles on
// each consecutive failure up to maxWait and resets once a job arrives.
func WithDequeueBackoff(initial, maxWait time.Duration) PoolOption {
	return func(p *Pool) {
		p.backoff = initial
		p.maxBackoff = maxWait
	}
}

func NewPool(q Queue, handler Handler, concurrency int, logger *slog.Logger, opts ...PoolOption) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := &Pool{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
		backoff:     defaultDequeueBackoff,
		maxBackoff:  defaultMaxDequeueBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxBackoff < p.backoff {
		p.maxBackoff = p.backoff
	}
	return p
}

// Run blocks until ctx is cancelled. Workers stop taking jobs on cancel; a
// job already taken runs to completion on a context detached from ctx.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range p.concurrency {
		g.Go(func() error {
			return p.work(gctx, i)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) error {
	wait := p.backoff
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			p.logger.ErrorContext(ctx, "dequeue failed",
				"worker", worker,
				"retry_in", wait.String(),
				"error", err,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			wait = min(wait*2, p.maxBackoff)
			continue
		}
		wait = p.backoff
		if err := p.handler.Handle(context.WithoutCancel(ctx), job); err != nil {
			p.logger.ErrorContext(ctx, "job handling failed",
				"worker", worker,
				"event_id", job.EventID,
				"attempt", job.Attempt,
				"error", err,
			)
		}
	}
}
