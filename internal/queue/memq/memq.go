// Package memq provides an in-process work queue for dev mode and tests.
package memq

import (
	"context"
	"errors"
)

// DefaultCapacity bounds the in-process backlog.
const DefaultCapacity = 1024

// ErrFull is returned when the queue backlog is exhausted.
var ErrFull = errors.New("work queue is full")

// Queue is a channel-backed work queue.
type Queue struct {
	ch chan int64
}

// New initializes a Queue with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan int64, capacity)}
}

// Enqueue submits a ticket id; fails fast when the backlog is full rather
// than blocking the request path.
func (q *Queue) Enqueue(_ context.Context, ticketID int64) error {
	select {
	case q.ch <- ticketID:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until a ticket id is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (int64, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
