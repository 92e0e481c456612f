package ticket

import (
	"context"
	"errors"
	"time"
)

// ErrClaimHeld is returned by Resolve when a worker currently holds
// processing ownership of the ticket.
var ErrClaimHeld = errors.New("ticket is being processed")

// ListFilter narrows a List query. Nil/zero fields are ignored.
type ListFilter struct {
	Status        *Status
	Urgency       *Urgency
	Category      *Category
	AIStatus      *AIStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	// Page is 1-indexed; PerPage is clamped by the API layer to 1..100.
	Page    int
	PerPage int
}

// Store is the persistence interface for tickets.
//
// Claim and Reclaim are single conditional updates and are the sole
// concurrency-safety mechanism for processing ownership: they must never be
// implemented as a read-then-write sequence.
type Store interface {
	// Create inserts a ticket with status pending.
	Create(ctx context.Context, complaint string) (*Ticket, error)

	// Get retrieves a ticket by ID.
	Get(ctx context.Context, id int64) (*Ticket, bool, error)

	// List returns a page of tickets (newest first) and the total match count.
	List(ctx context.Context, f ListFilter) ([]*Ticket, int, error)

	// Claim atomically transitions pending -> processing. claimed=false with
	// a nil error means another actor already claimed or resolved the ticket.
	Claim(ctx context.Context, id int64) (claimed bool, err error)

	// Reclaim atomically transitions failed -> processing. It exists solely
	// for the retry path of the invocation that marked the ticket failed;
	// fresh claims must go through Claim.
	Reclaim(ctx context.Context, id int64) (claimed bool, err error)

	// Complete merges a TriageResult, sets status completed and clears
	// error_message, conditional on the row still being in processing.
	// ok=false means the ticket left processing under us (external
	// intervention) and nothing was written.
	Complete(ctx context.Context, id int64, res TriageResult) (t *Ticket, ok bool, err error)

	// MarkFailed sets status failed with the given (already truncated)
	// error message, conditional on the row still being in processing.
	MarkFailed(ctx context.Context, id int64, errMsg string) (t *Ticket, ok bool, err error)

	// UpdateAgentResponse stores an agent's edited response text.
	// ok=false means the ticket does not exist.
	UpdateAgentResponse(ctx context.Context, id int64, response string) (*Ticket, bool, error)

	// Resolve records manual resolution: status completed, agent_id, and a
	// set-once resolved_at. The conditional update skips rows in processing,
	// so manual intervention never races a worker's commit; ErrClaimHeld is
	// returned in that case.
	Resolve(ctx context.Context, id int64, agentID string) (*Ticket, bool, error)
}
