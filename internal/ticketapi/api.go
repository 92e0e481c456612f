// Package ticketapi serves the ticket HTTP surface: CRUD, manual resolution,
// and the websocket upgrade endpoint.
package ticketapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/queue"
	"github.com/linnemanlabs/triagehub/internal/ticket"
	"github.com/linnemanlabs/triagehub/internal/wshub"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	store   ticket.Store
	queue   queue.Queue
	pub     bus.Publisher
	hub     *wshub.Hub
	metrics *ticket.Metrics
}

// New creates a new API handler. pub, hub and metrics may be nil; store and
// q are required.
func New(logger log.Logger, store ticket.Store, q queue.Queue, pub bus.Publisher, hub *wshub.Hub, metrics *ticket.Metrics) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		panic(xerrors.New("ticket store is required"))
	}
	if q == nil {
		panic(xerrors.New("triage queue is required"))
	}
	return &API{
		logger:  logger,
		store:   store,
		queue:   q,
		pub:     pub,
		hub:     hub,
		metrics: metrics,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/tickets", func(r chi.Router) {
		r.Post("/", a.handleCreateTicket)
		r.Get("/", a.handleListTickets)
		r.Get("/{id}", a.handleGetTicket)
		r.Patch("/{id}", a.handleUpdateTicket)
		r.Post("/{id}/resolve", a.handleResolveTicket)
	})
	if a.hub != nil {
		r.Get("/ws/tickets", a.handleWebsocket)
	}
}

func (a *API) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) respondError(w http.ResponseWriter, status int, msg string) {
	a.respondJSON(w, status, map[string]string{"error": msg})
}

func (a *API) countSubmit(result string) {
	if a.metrics != nil {
		a.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
