// Package queue carries dispatch jobs from the HTTP boundary to workers,
// including delayed retry jobs.
package queue

import (
	"context"
	"time"

	"relay/pkg/domain"
)

// Job is one handler invocation of an event. Attempt starts at 0 and is
// carried explicitly so retries do not depend on worker state.
type Job struct {
	EventID    domain.EventID `json:"event_id"`
	Attempt    int            `json:"attempt"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Next returns the job for the following attempt.
func (j Job) Next(now time.Time) Job {
	return Job{EventID: j.EventID, Attempt: j.Attempt + 1, EnqueuedAt: now}
}

// Queue is a work queue with delayed delivery.
type Queue interface {
	// Enqueue makes job available to workers now.
	Enqueue(ctx context.Context, job Job) error
	// Schedule makes job available no earlier than at.
	Schedule(ctx context.Context, job Job, at time.Time) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
}

// Handler processes one job. Errors are logged by the pool; retry policy is
// the handler's concern.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }
