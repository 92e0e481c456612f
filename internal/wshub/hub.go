// Package wshub multiplexes ticket update events from the bus onto websocket
// subscribers. A single bus subscription is shared by every connection and is
// held only while at least one connection is open.
package wshub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Store is the read side the hub needs for subscription snapshots.
type Store interface {
	Get(ctx context.Context, id int64) (*ticket.Ticket, bool, error)
}

// Hub fans bus events out to websocket sessions by ticket id.
type Hub struct {
	store    Store
	listener bus.Listener
	logger   log.Logger
	metrics  *ticket.Metrics

	mu       sync.Mutex
	subs     map[int64]map[*session]struct{}
	sessions map[*session]map[int64]struct{}

	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

// New returns a Hub reading snapshots from store and events from listener.
// logger and metrics may be nil.
func New(store Store, listener bus.Listener, logger log.Logger, metrics *ticket.Metrics) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		store:    store,
		listener: listener,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[int64]map[*session]struct{}),
		sessions: make(map[*session]map[int64]struct{}),
	}
}

// Serve runs one connection until the client disconnects or the transport
// fails. It blocks, so callers invoke it from the connection's handler
// goroutine.
func (h *Hub) Serve(ctx context.Context, t Transport) {
	s := newSession(t)
	h.attach(s)
	go s.writeLoop()
	defer h.detach(s)

	for {
		data, err := t.ReadMessage()
		if err != nil {
			return
		}
		h.handle(ctx, s, data)
	}
}

// Shutdown closes every open session and stops the shared bus subscription.
// It waits for the listener to exit or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for s := range h.sessions {
		s.close()
	}
	h.sessions = make(map[*session]map[int64]struct{})
	h.subs = make(map[int64]map[*session]struct{})
	cancel, done := h.listenCancel, h.listenDone
	h.listenCancel, h.listenDone = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(ctx context.Context, s *session, data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendJSON(serverMessage{Type: TypeError, Message: "invalid message"})
		return
	}

	switch req.Action {
	case ActionSubscribe:
		ids, err := parseTicketIDs(req.TicketIDs)
		if err != nil {
			s.sendJSON(serverMessage{Type: TypeError, Message: err.Error()})
			return
		}
		h.subscribe(s, ids)
		s.sendJSON(serverMessage{Type: TypeSubscribed, TicketIDs: ids})
		go h.sendSnapshots(ctx, s, ids)
	case ActionUnsubscribe:
		h.unsubscribe(s, parseTicketIDsLenient(req.TicketIDs))
	case ActionPing:
		s.sendJSON(serverMessage{Type: TypePong})
	default:
		s.sendJSON(serverMessage{Type: TypeError, Message: "unknown action: " + req.Action})
	}
}

// sendSnapshots pushes the current state of each newly subscribed ticket
// through the session's ordinary outbound queue. Running it after the
// subscription is registered means a concurrent live event can arrive first;
// clients reconcile by ticket_id and updated_at.
func (h *Hub) sendSnapshots(ctx context.Context, s *session, ids []int64) {
	for _, id := range ids {
		t, okFound, err := h.store.Get(ctx, id)
		if err != nil {
			h.logger.Error(ctx, err, "snapshot read failed", "ticket_id", id)
			h.countSnapshot("error")
			continue
		}
		if !okFound {
			h.countSnapshot("missing")
			continue
		}
		ev := ticket.NewUpdateEvent(t)
		if s.sendJSON(serverMessage{Type: TypeTicketUpdated, Data: &ev}) {
			h.countSnapshot("ok")
		} else {
			h.countSnapshot("dropped")
		}
	}
}

func (h *Hub) attach(s *session) {
	h.mu.Lock()
	h.sessions[s] = make(map[int64]struct{})
	first := len(h.sessions) == 1
	if first && h.listenCancel == nil {
		h.startListener()
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
}

func (h *Hub) detach(s *session) {
	s.close()

	h.mu.Lock()
	for id := range h.sessions[s] {
		h.dropSub(id, s)
	}
	delete(h.sessions, s)
	var cancel context.CancelFunc
	var done chan struct{}
	if len(h.sessions) == 0 && h.listenCancel != nil {
		cancel, done = h.listenCancel, h.listenDone
		h.listenCancel, h.listenDone = nil, nil
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}

	// Stop the listener outside the lock: dispatch takes h.mu, so waiting
	// under it would deadlock against an in-flight event.
	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *Hub) subscribe(s *session, ids []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned, ok := h.sessions[s]
	if !ok {
		return
	}
	for _, id := range ids {
		owned[id] = struct{}{}
		set := h.subs[id]
		if set == nil {
			set = make(map[*session]struct{})
			h.subs[id] = set
		}
		set[s] = struct{}{}
	}
}

func (h *Hub) unsubscribe(s *session, ids []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned, ok := h.sessions[s]
	if !ok {
		return
	}
	for _, id := range ids {
		delete(owned, id)
		h.dropSub(id, s)
	}
}

// dropSub removes s from a ticket's subscriber set. Callers hold h.mu.
func (h *Hub) dropSub(id int64, s *session) {
	set := h.subs[id]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, id)
	}
}

// startListener begins the shared bus subscription. Callers hold h.mu.
func (h *Hub) startListener() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.listenCancel = cancel
	h.listenDone = done

	go func() {
		defer close(done)
		if err := h.listener.Listen(ctx, h.dispatch); err != nil && ctx.Err() == nil {
			h.logger.Error(ctx, err, "event listener exited")
		}
	}()
}

// dispatch fans one event out to the ticket's subscribers. A session that
// cannot keep up loses the event; it never blocks delivery to the others.
func (h *Hub) dispatch(ctx context.Context, ev ticket.UpdateEvent) {
	data, err := json.Marshal(serverMessage{Type: TypeTicketUpdated, Data: &ev})
	if err != nil {
		h.logger.Error(ctx, err, "encode update event", "ticket_id", ev.TicketID)
		return
	}

	h.mu.Lock()
	targets := make([]*session, 0, len(h.subs[ev.TicketID]))
	for s := range h.subs[ev.TicketID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if s.trySend(data) {
			h.countDelivery("ok")
		} else {
			h.countDelivery("dropped")
		}
	}
}

func (h *Hub) countDelivery(outcome string) {
	if h.metrics != nil {
		h.metrics.WSDeliveries.WithLabelValues(outcome).Inc()
	}
}

func (h *Hub) countSnapshot(outcome string) {
	if h.metrics != nil {
		h.metrics.WSSnapshotsTotal.WithLabelValues(outcome).Inc()
	}
}
