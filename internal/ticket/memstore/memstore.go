// Package memstore provides an in-memory implementation of ticket.Store.
// Suitable for dev mode and tests; claim semantics match pgstore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Store holds tickets in memory.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	tickets map[int64]*ticket.Ticket
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		nextID:  1,
		tickets: make(map[int64]*ticket.Ticket),
	}
}

// Create inserts a ticket with status pending.
func (s *Store) Create(_ context.Context, complaint string) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	t := &ticket.Ticket{
		ID:        s.nextID,
		Complaint: complaint,
		Status:    ticket.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.tickets[t.ID] = t

	cp := *t
	return &cp, nil
}

// Get retrieves a ticket by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id int64) (*ticket.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

// List returns a page of matching tickets, newest first.
func (s *Store) List(_ context.Context, f ticket.ListFilter) ([]*ticket.Ticket, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*ticket.Ticket
	for _, t := range s.tickets {
		if !matches(t, f) {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start >= total {
		return nil, total, nil
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(t *ticket.Ticket, f ticket.ListFilter) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Urgency != nil && (t.Urgency == nil || *t.Urgency != *f.Urgency) {
		return false
	}
	if f.Category != nil && (t.Category == nil || *t.Category != *f.Category) {
		return false
	}
	if f.AIStatus != nil && (t.AIStatus == nil || *t.AIStatus != *f.AIStatus) {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// Claim atomically transitions pending -> processing.
func (s *Store) Claim(_ context.Context, id int64) (bool, error) {
	return s.transition(id, ticket.StatusPending, ticket.StatusProcessing)
}

// Reclaim atomically transitions failed -> processing.
func (s *Store) Reclaim(_ context.Context, id int64) (bool, error) {
	return s.transition(id, ticket.StatusFailed, ticket.StatusProcessing)
}

func (s *Store) transition(id int64, from, to ticket.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Complete merges a TriageResult, conditional on processing.
func (s *Store) Complete(_ context.Context, id int64, res ticket.TriageResult) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.Status != ticket.StatusProcessing {
		return nil, false, nil
	}

	cat, score, urg := res.Category, res.SentimentScore, res.Urgency
	draft, aiStatus := res.DraftResponse, res.AIStatus
	t.Category = &cat
	t.SentimentScore = &score
	t.Urgency = &urg
	t.AIDraftResponse = &draft
	t.AIStatus = &aiStatus
	t.Status = ticket.StatusCompleted
	t.ErrorMessage = nil
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, true, nil
}

// MarkFailed records a failure, conditional on processing.
func (s *Store) MarkFailed(_ context.Context, id int64, errMsg string) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.Status != ticket.StatusProcessing {
		return nil, false, nil
	}

	t.Status = ticket.StatusFailed
	t.ErrorMessage = &errMsg
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, true, nil
}

// UpdateAgentResponse stores an agent's edited response text.
func (s *Store) UpdateAgentResponse(_ context.Context, id int64, response string) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	t.AgentEditedResponse = &response
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, true, nil
}

// Resolve records manual resolution; refuses tickets in processing.
func (s *Store) Resolve(_ context.Context, id int64, agentID string) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	if t.Status == ticket.StatusProcessing {
		return nil, true, ticket.ErrClaimHeld
	}

	now := time.Now().UTC()
	t.Status = ticket.StatusCompleted
	t.AgentID = &agentID
	if t.ResolvedAt == nil {
		t.ResolvedAt = &now
	}
	t.UpdatedAt = now

	cp := *t
	return &cp, true, nil
}
