package membus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

func waitForSubscribers(t *testing.T, b *Bus, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		b.mu.Lock()
		got := len(b.subs)
		b.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("subscribers = %d, want %d", got, n)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPublishReachesAllListeners(t *testing.T) {
	t.Parallel()
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const listeners = 3
	received := make(chan ticket.UpdateEvent, listeners)
	var wg sync.WaitGroup
	for i := 0; i < listeners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Listen(ctx, func(_ context.Context, ev ticket.UpdateEvent) {
				received <- ev
			})
		}()
	}
	waitForSubscribers(t, b, listeners)

	if err := b.PublishUpdate(ctx, ticket.UpdateEvent{TicketID: 9, Status: ticket.StatusCompleted}); err != nil {
		t.Fatalf("PublishUpdate: %v", err)
	}

	for i := 0; i < listeners; i++ {
		select {
		case ev := <-received:
			if ev.TicketID != 9 {
				t.Errorf("TicketID = %d, want 9", ev.TicketID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("listener %d never received the event", i)
		}
	}

	cancel()
	wg.Wait()
}

func TestListenReturnsOnCancel(t *testing.T) {
	t.Parallel()
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Listen(ctx, func(context.Context, ticket.UpdateEvent) {})
	}()
	waitForSubscribers(t, b, 1)

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Listen err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return on cancel")
	}

	// Subscriber is deregistered; publishing must not panic or block.
	waitForSubscribers(t, b, 0)
	if err := b.PublishUpdate(context.Background(), ticket.UpdateEvent{TicketID: 1}); err != nil {
		t.Errorf("PublishUpdate after deregistration: %v", err)
	}
}

func TestPublishNeverBlocksOnSlowListener(t *testing.T) {
	t.Parallel()
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listener that never drains: its handler blocks forever.
	block := make(chan struct{})
	go func() {
		_ = b.Listen(ctx, func(context.Context, ticket.UpdateEvent) {
			<-block
		})
	}()
	waitForSubscribers(t, b, 1)

	// Overflow the subscriber buffer; the excess is dropped, not blocked on.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.PublishUpdate(ctx, ticket.UpdateEvent{TicketID: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishUpdate blocked on a slow listener")
	}
	close(block)
}
