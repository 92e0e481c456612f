package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/bus/membus"
	"github.com/linnemanlabs/triagehub/internal/queue/memq"
	"github.com/linnemanlabs/triagehub/internal/ticket"
	"github.com/linnemanlabs/triagehub/internal/ticket/memstore"
)

// mockTriager scripts the classifier per call.
type mockTriager struct {
	mu      sync.Mutex
	calls   int
	results []func() (ticket.TriageResult, error)
}

func (m *mockTriager) Triage(context.Context, string) (ticket.TriageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i]()
}

func (m *mockTriager) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func ok() func() (ticket.TriageResult, error) {
	return func() (ticket.TriageResult, error) {
		return ticket.TriageResult{
			Category:       ticket.CategoryTechnical,
			SentimentScore: 4,
			Urgency:        ticket.UrgencyMedium,
			DraftResponse:  "Thanks for flagging this, a fix is on the way shortly.",
			AIStatus:       ticket.AIStatusSuccess,
		}, nil
	}
}

func fail(msg string) func() (ticket.TriageResult, error) {
	return func() (ticket.TriageResult, error) {
		return ticket.TriageResult{}, errors.New(msg)
	}
}

// recordingPub captures published events.
type recordingPub struct {
	mu     sync.Mutex
	events []ticket.UpdateEvent
	err    error
}

func (r *recordingPub) PublishUpdate(_ context.Context, ev ticket.UpdateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPub) all() []ticket.UpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ticket.UpdateEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newPipeline(t *testing.T, store ticket.Store, tr Triager, pub bus.Publisher, opts Options) *Pipeline {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	p, err := New(store, tr, pub, memq.New(16), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	pub := &recordingPub{}
	q := memq.New(16)

	if _, err := New(nil, tr, pub, q, Options{}); err == nil {
		t.Error("New with nil store succeeded")
	}
	if _, err := New(store, nil, pub, q, Options{}); err == nil {
		t.Error("New with nil triager succeeded")
	}
	if _, err := New(store, tr, nil, q, Options{}); err == nil {
		t.Error("New with nil publisher succeeded")
	}
	if _, err := New(store, tr, pub, nil, Options{}); err == nil {
		t.Error("New with nil queue succeeded")
	}

	p, err := New(store, tr, pub, q, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.maxAttempts != DefaultMaxAttempts || p.retryDelay != DefaultRetryDelay || p.workers != DefaultWorkers {
		t.Errorf("defaults = %d %v %d", p.maxAttempts, p.retryDelay, p.workers)
	}
}

func TestProcessSuccess(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	pub := &recordingPub{}
	p := newPipeline(t, store, tr, pub, Options{})

	ctx := context.Background()
	tk, _ := store.Create(ctx, "The invoice totals are off by the tax amount")

	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.AIStatus == nil || *got.AIStatus != ticket.AIStatusSuccess {
		t.Errorf("AIStatus = %v", got.AIStatus)
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("published events = %d, want 1", len(events))
	}
	if events[0].TicketID != tk.ID || events[0].Status != ticket.StatusCompleted {
		t.Errorf("event = %+v", events[0])
	}
	if tr.callCount() != 1 {
		t.Errorf("triage calls = %d, want 1", tr.callCount())
	}
}

func TestProcessContentionIsConclusive(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	pub := &recordingPub{}
	p := newPipeline(t, store, tr, pub, Options{})

	ctx := context.Background()
	tk, _ := store.Create(ctx, "Exported CSVs use the wrong date format for my locale")

	// Someone else claims first.
	if claimed, _ := store.Claim(ctx, tk.ID); !claimed {
		t.Fatal("setup claim failed")
	}

	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process on contended ticket: %v", err)
	}
	if tr.callCount() != 0 {
		t.Errorf("triage calls = %d, want 0", tr.callCount())
	}
	if len(pub.all()) != 0 {
		t.Error("contention must not publish events")
	}

	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusProcessing {
		t.Errorf("Status = %q, other worker's claim must stand", got.Status)
	}
}

func TestProcessRetryBound(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	// Triager that always fails hard.
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){fail("classifier unusable")}}
	pub := &recordingPub{}
	p := newPipeline(t, store, tr, pub, Options{MaxAttempts: 3})

	ctx := context.Background()
	tk, _ := store.Create(ctx, "Notifications never arrive even though they are enabled")

	err := p.Process(ctx, tk.ID)
	if err == nil {
		t.Fatal("Process succeeded, want exhausted retries")
	}
	if tr.callCount() != 3 {
		t.Errorf("triage calls = %d, want exactly 3", tr.callCount())
	}

	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Error("error_message not recorded")
	}

	// One failed event per attempt.
	events := pub.all()
	if len(events) != 3 {
		t.Fatalf("published events = %d, want 3", len(events))
	}
	for _, ev := range events {
		if ev.Status != ticket.StatusFailed {
			t.Errorf("event status = %q, want failed", ev.Status)
		}
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){
		fail("transient"),
		ok(),
	}}
	pub := &recordingPub{}
	p := newPipeline(t, store, tr, pub, Options{MaxAttempts: 3})

	ctx := context.Background()
	tk, _ := store.Create(ctx, "Login loops back to the signin page on Safari")

	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tr.callCount() != 2 {
		t.Errorf("triage calls = %d, want 2", tr.callCount())
	}

	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.ErrorMessage != nil {
		t.Error("error_message must be cleared on eventual success")
	}

	// Failed event from attempt 1, completed event from attempt 2.
	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("published events = %d, want 2", len(events))
	}
	if events[0].Status != ticket.StatusFailed || events[1].Status != ticket.StatusCompleted {
		t.Errorf("event statuses = %q, %q", events[0].Status, events[1].Status)
	}
}

func TestProcessStopsWhenResolvedMidRetry(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	tk, _ := store.Create(ctx, "Support portal rejects my login with a blank error")

	tr := &mockTriager{results: []func() (ticket.TriageResult, error){
		fail("transient"),
		ok(),
	}}

	// The retry delay leaves a window where the ticket sits in failed; an
	// agent resolving it there must win over the pipeline's re-claim.
	pub := &recordingPub{}
	p := newPipeline(t, store, tr, pub, Options{MaxAttempts: 3, RetryDelay: 50 * time.Millisecond})

	go func() {
		// Wait until the first attempt has marked the ticket failed.
		for {
			got, _, _ := store.Get(ctx, tk.ID)
			if got.Status == ticket.StatusFailed {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if _, _, err := store.Resolve(ctx, tk.ID, "agent-1"); err != nil {
			t.Errorf("Resolve: %v", err)
		}
	}()

	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Reclaim must have lost to the manual resolution: one triage call only.
	if tr.callCount() != 1 {
		t.Errorf("triage calls = %d, want 1", tr.callCount())
	}
	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusCompleted || got.AgentID == nil {
		t.Errorf("final ticket = %+v, want agent resolution preserved", got)
	}
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	pub := &recordingPub{}
	q := memq.New(16)
	p, err := New(store, tr, pub, q, Options{Workers: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	const n = 5
	for i := 0; i < n; i++ {
		tk, _ := store.Create(ctx, "Recurring complaint about the weekly digest emails")
		if err := q.Enqueue(ctx, tk.ID); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(runCtx)
	}()

	deadline := time.After(5 * time.Second)
	for {
		completed := ticket.StatusCompleted
		_, total, err := store.List(ctx, ticket.ListFilter{Status: &completed, Page: 1, PerPage: 100})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total == n {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of %d tickets completed", total, n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPublishFailureDoesNotFailJob(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	pub := &recordingPub{err: errors.New("broker down")}
	p := newPipeline(t, store, tr, pub, Options{})

	ctx := context.Background()
	tk, _ := store.Create(ctx, "Broker outage should not block ticket processing")

	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _, _ := store.Get(ctx, tk.ID)
	if got.Status != ticket.StatusCompleted {
		t.Errorf("Status = %q, want completed despite publish failure", got.Status)
	}
}

func TestEventsReachMembusListeners(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tr := &mockTriager{results: []func() (ticket.TriageResult, error){ok()}}
	b := membus.New()
	p, err := New(store, tr, b, memq.New(16), Options{RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ticket.UpdateEvent, 4)
	listening := make(chan struct{})
	go func() {
		close(listening)
		_ = b.Listen(ctx, func(_ context.Context, ev ticket.UpdateEvent) {
			received <- ev
		})
	}()
	<-listening
	time.Sleep(10 * time.Millisecond)

	tk, _ := store.Create(ctx, "End to end event delivery check for completed triage")
	if err := p.Process(ctx, tk.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case ev := <-received:
		if ev.TicketID != tk.ID || ev.Status != ticket.StatusCompleted {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received from membus")
	}
}
