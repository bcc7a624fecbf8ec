// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Queue is a bounded FIFO of jobs with context-aware operations. Enqueue never
// blocks: a full queue is reported with media.ErrQueueFull.
type Queue struct {
	ch       chan media.Job
	closeMu  sync.RWMutex
	closed   bool
	inFlight atomic.Int64
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan media.Job, capacity),
	}
}

// Enqueue appends a job or fails fast when the queue is full or closed.
func (q *Queue) Enqueue(ctx context.Context, job media.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return media.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	default:
		return media.ErrQueueFull
	}
}

// Dequeue pops the next job, respecting context cancellation. The caller must
// call Done once the job is finished.
func (q *Queue) Dequeue(ctx context.Context) (media.Job, error) {
	select {
	case <-ctx.Done():
		return media.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return media.Job{}, media.ErrQueueClosed
		}
		q.inFlight.Add(1)
		return job, nil
	}
}

// Done marks one dequeued job as consumed.
func (q *Queue) Done() {
	for {
		cur := q.inFlight.Load()
		if cur <= 0 {
			return
		}
		if q.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Len returns the number of jobs waiting to be dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// InFlight returns the number of dequeued jobs not yet marked Done.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close closes the underlying channel for shutdown. Jobs already queued can
// still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
