package ticketapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type createRequest struct {
	Complaint string `json:"complaint"`
}

type updateRequest struct {
	AgentEditedResponse *string `json:"agent_edited_response"`
}

type listResponse struct {
	Data       []*ticket.Ticket `json:"data"`
	Pagination pagination       `json:"pagination"`
}

type pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.countSubmit("invalid")
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	complaint, err := ticket.ValidComplaint(req.Complaint)
	if err != nil {
		a.countSubmit("invalid")
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := a.store.Create(r.Context(), complaint)
	if err != nil {
		a.countSubmit("error")
		a.logger.Error(r.Context(), err, "failed to create ticket")
		a.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.Info(r.Context(), "ticket created", "ticket_id", t.ID)

	// The ticket row is the source of truth; a failed enqueue leaves it
	// pending for an operator to requeue, so the create still succeeds.
	if err := a.queue.Enqueue(r.Context(), t.ID); err != nil {
		a.countSubmit("enqueue_error")
		a.logger.Warn(r.Context(), "failed to enqueue triage job", "ticket_id", t.ID, "error", err)
	} else {
		a.countSubmit("created")
		a.logger.Info(r.Context(), "triage job queued", "ticket_id", t.ID)
	}

	a.respondJSON(w, http.StatusCreated, t)
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := ticket.ListFilter{
		Page:    queryInt(q.Get("page"), 1),
		PerPage: queryInt(q.Get("per_page"), defaultPerPage),
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > maxPerPage {
		f.PerPage = defaultPerPage
	}

	// An unrecognized enum filter can never match a row, so it yields an
	// empty page rather than an error.
	if v := q.Get("status"); v != "" {
		s := ticket.Status(v)
		if !ticket.ValidStatus(s) {
			a.respondJSON(w, http.StatusOK, emptyPage(f))
			return
		}
		f.Status = &s
	}
	if v := q.Get("urgency"); v != "" {
		u := ticket.Urgency(v)
		if !ticket.ValidUrgency(u) {
			a.respondJSON(w, http.StatusOK, emptyPage(f))
			return
		}
		f.Urgency = &u
	}
	if v := q.Get("category"); v != "" {
		c := ticket.Category(v)
		if !ticket.ValidCategory(c) {
			a.respondJSON(w, http.StatusOK, emptyPage(f))
			return
		}
		f.Category = &c
	}
	if v := q.Get("ai_status"); v != "" {
		s := ticket.AIStatus(v)
		if !ticket.ValidAIStatus(s) {
			a.respondJSON(w, http.StatusOK, emptyPage(f))
			return
		}
		f.AIStatus = &s
	}
	if v := q.Get("created_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, "created_after must be RFC 3339")
			return
		}
		f.CreatedAfter = &ts
	}
	if v := q.Get("created_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, "created_before must be RFC 3339")
			return
		}
		f.CreatedBefore = &ts
	}

	items, total, err := a.store.List(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list tickets")
		a.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []*ticket.Ticket{}
	}

	totalPages := (total + f.PerPage - 1) / f.PerPage
	a.respondJSON(w, http.StatusOK, listResponse{
		Data: items,
		Pagination: pagination{
			Total:      total,
			Page:       f.Page,
			PerPage:    f.PerPage,
			TotalPages: totalPages,
			HasMore:    f.Page < totalPages,
		},
	})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ticketID(w, r)
	if !ok {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("triagehub.ticket.id", id))

	t, found, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get ticket", "ticket_id", id)
		a.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		a.respondError(w, http.StatusNotFound, "ticket not found")
		return
	}

	span.SetAttributes(attribute.String("triagehub.ticket.status", string(t.Status)))
	a.respondJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ticketID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	// Only the agent's edited response is mutable; the AI draft is preserved.
	if req.AgentEditedResponse == nil {
		t, found, err := a.store.Get(r.Context(), id)
		if err != nil {
			a.logger.Error(r.Context(), err, "failed to get ticket", "ticket_id", id)
			a.respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			a.respondError(w, http.StatusNotFound, "ticket not found")
			return
		}
		a.respondJSON(w, http.StatusOK, t)
		return
	}

	if len(*req.AgentEditedResponse) > ticket.MaxAgentResponseLen {
		a.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("agent_edited_response must be at most %d characters", ticket.MaxAgentResponseLen))
		return
	}

	t, found, err := a.store.UpdateAgentResponse(r.Context(), id, *req.AgentEditedResponse)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to update ticket", "ticket_id", id)
		a.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		a.respondError(w, http.StatusNotFound, "ticket not found")
		return
	}

	a.logger.Info(r.Context(), "ticket updated", "ticket_id", id)
	a.respondJSON(w, http.StatusOK, t)
}

func (a *API) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ticketID(w, r)
	if !ok {
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		a.respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	t, found, err := a.store.Resolve(r.Context(), id, agentID)
	if errors.Is(err, ticket.ErrClaimHeld) {
		a.respondError(w, http.StatusConflict, "ticket is being processed, try again shortly")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve ticket", "ticket_id", id)
		a.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		a.respondError(w, http.StatusNotFound, "ticket not found")
		return
	}

	a.logger.Info(r.Context(), "ticket resolved", "ticket_id", id, "agent_id", agentID)

	if a.pub != nil {
		ev := ticket.NewUpdateEvent(t)
		if err := a.pub.PublishUpdate(r.Context(), ev); err != nil {
			a.logger.Warn(r.Context(), "failed to publish resolve event", "ticket_id", id, "error", err)
		}
	}

	a.respondJSON(w, http.StatusOK, t)
}

func (a *API) ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		a.respondError(w, http.StatusBadRequest, "invalid ticket id")
		return 0, false
	}
	return id, true
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func emptyPage(f ticket.ListFilter) listResponse {
	return listResponse{
		Data: []*ticket.Ticket{},
		Pagination: pagination{
			Page:    f.Page,
			PerPage: f.PerPage,
		},
	}
}
