// Package queue defines the work-claim channel between ticket creation and
// the triage pipeline. The channel carries only ticket ids; workers re-read
// the complaint from the store after claiming.
package queue

import "context"

// Queue is the work-claim channel.
type Queue interface {
	// Enqueue submits a ticket id for triage.
	Enqueue(ctx context.Context, ticketID int64) error

	// Dequeue blocks until a ticket id is available or ctx is cancelled.
	Dequeue(ctx context.Context) (int64, error)
}
