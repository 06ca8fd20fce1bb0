package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"relay/pkg/platform/sentinel"
)

// MemoryQueue is an in-process queue for the all-in-one role and tests.
// Delayed jobs sit on timers, never on a sleeping worker.
type MemoryQueue struct {
	ready chan Job
	done  chan struct{}

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	closed  bool
	dropped atomic.Int64
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ready:  make(chan Job, capacity),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return sentinel.ErrClosed
	}
	select {
	case q.ready <- job:
		return nil
	case <-q.done:
		return sentinel.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue job: %w", ctx.Err())
	}
}

func (q *MemoryQueue) Schedule(_ context.Context, job Job, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return sentinel.ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.dropped.Add(1)
			return
		}
		// a full ready buffer blocks until a worker frees a slot or Close
		select {
		case q.ready <- job:
		case <-q.done:
			q.dropped.Add(1)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ready:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Pending returns the number of scheduled jobs not yet due.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Dropped counts delayed jobs discarded because the queue closed before
// they could be delivered.
func (q *MemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops pending timers; their jobs are dropped. Timer callbacks
// blocked on a full ready buffer are released.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	for t := range q.timers {
		if t.Stop() {
			q.dropped.Add(1)
		}
	}
	clear(q.timers)
}
