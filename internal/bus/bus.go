// Package bus defines the process-crossing bridge carrying ticket
// UpdateEvents from workers to listeners, and its wire format.
package bus

import (
	"context"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Channel is the single well-known topic shared by all worker and listener
// processes.
const Channel = "ticket:updated"

// EventTicketUpdated is the event discriminator in the wire envelope.
const EventTicketUpdated = "ticket_updated"

// Message is the bridge wire envelope.
type Message struct {
	Event    string             `json:"event"`
	TicketID int64              `json:"ticket_id"`
	Data     ticket.UpdateEvent `json:"data"`
}

// Handler receives decoded events from a Listener.
type Handler func(ctx context.Context, ev ticket.UpdateEvent)

// Publisher emits UpdateEvents onto the bridge. Publishing is best-effort:
// implementations return an error for the caller to log, but the event
// stream is a notification layer, never the system of record.
type Publisher interface {
	PublishUpdate(ctx context.Context, ev ticket.UpdateEvent) error
}

// Listener consumes the bridge. Listen blocks, invoking the handler for each
// decoded event, until ctx is cancelled; malformed messages are skipped.
type Listener interface {
	Listen(ctx context.Context, h Handler) error
}
