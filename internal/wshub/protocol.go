package wshub

import (
	"encoding/json"
	"errors"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Server message types.
const (
	TypeSubscribed    = "subscribed"
	TypeTicketUpdated = "ticket_updated"
	TypePong          = "pong"
	TypeError         = "error"
)

// clientRequest is a decoded client frame. TicketIDs stays raw so subscribe
// can reject malformed ids while unsubscribe drops them silently.
type clientRequest struct {
	Action    string          `json:"action"`
	TicketIDs json.RawMessage `json:"ticket_ids"`
}

// serverMessage is the single frame shape sent to clients.
type serverMessage struct {
	Type      string              `json:"type"`
	TicketIDs []int64             `json:"ticket_ids,omitempty"`
	Message   string              `json:"message,omitempty"`
	Data      *ticket.UpdateEvent `json:"data,omitempty"`
}

// parseTicketIDs decodes a ticket_ids field strictly: the field must be a
// list and every entry an integer. Used for subscribe, where silently
// dropping a request would hide a client bug.
func parseTicketIDs(raw json.RawMessage) ([]int64, error) {
	if len(raw) == 0 {
		return nil, errors.New("ticket_ids must be a list of integers")
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.New("ticket_ids must be a list of integers")
	}
	return ids, nil
}

// parseTicketIDsLenient decodes a ticket_ids field best-effort, dropping
// entries that are not integers. Used for unsubscribe.
func parseTicketIDsLenient(raw json.RawMessage) []int64 {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		var id int64
		if err := json.Unmarshal(e, &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
