// Package handoff provides a blocking, coalescing queue for passing the latest value between goroutines.
// every receive drains all pending values and returns only the newest one, so a slow consumer
// never works through a backlog of stale values.
package handoff

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by ReceiveContext once the queue is closed and has nothing pending.
var ErrClosed = errors.New("handoff queue closed")

// Stats holds queue counters.
type Stats struct {
	Sent      uint64 // values accepted by Send
	Received  uint64 // values returned to receivers
	Coalesced uint64 // values discarded because a newer one was pending at drain time
}

// Queue is a blocking queue between one producer and its consumers.
// Send never blocks; Receive blocks until something was sent, then drains everything pending
// and returns the most recently sent value.
// use New to create one, the zero value has no condition variable.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []T
	closed  bool
	stats   Stats
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends v and wakes one blocked receiver. values sent after Close are dropped.
func (q *Queue[T]) Send(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.pending = append(q.pending, v)
	q.stats.Sent++
	q.cond.Signal()
}

// Receive blocks until at least one value is pending and returns the newest one, discarding the rest.
// on a closed queue with nothing pending it returns the zero value instead of blocking.
func (q *Queue[T]) Receive() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.pending) == 0 {
		var zero T
		return zero
	}
	return q.drain()
}

// ReceiveContext is Receive with cancellation. it returns ctx.Err() when ctx is done before
// anything was sent, and ErrClosed when the queue is closed and empty.
// a value already pending wins over a closed queue but not over a cancelled context.
func (q *Queue[T]) ReceiveContext(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	// wake waiters when ctx is cancelled; taking the lock before Broadcast means a waiter
	// that just checked ctx.Err() is already parked in Wait and can't miss it
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	switch {
	case len(q.pending) > 0:
		return q.drain(), nil
	case q.closed:
		return zero, ErrClosed
	default:
		return zero, ctx.Err()
	}
}

// Close marks the queue closed and wakes every blocked receiver. safe to call multiple times.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of values waiting to be drained.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// drain empties pending and returns its last element. must be called with lock held and pending non-empty.
func (q *Queue[T]) drain() T {
	v := q.pending[len(q.pending)-1]
	q.stats.Received++
	q.stats.Coalesced += uint64(len(q.pending) - 1)

	clear(q.pending) // release references held by discarded values
	q.pending = q.pending[:0]
	return v
}
