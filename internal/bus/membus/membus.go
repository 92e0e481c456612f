// Package membus provides an in-process implementation of the event bridge
// for dev mode and tests, where publisher and listener share one process.
package membus

import (
	"context"
	"sync"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// subscriberBuffer bounds each listener's backlog; publishes to a full
// listener are dropped, matching the broker's best-effort contract.
const subscriberBuffer = 64

// Bus fans published events out to every active listener.
type Bus struct {
	mu   sync.Mutex
	subs map[chan ticket.UpdateEvent]struct{}
}

// New initializes an in-process Bus.
func New() *Bus {
	return &Bus{subs: make(map[chan ticket.UpdateEvent]struct{})}
}

// PublishUpdate delivers the event to every listener. Never blocks: a
// listener that cannot keep up loses events, recoverable via snapshot
// reconciliation like any other lost bridge message.
func (b *Bus) PublishUpdate(_ context.Context, ev ticket.UpdateEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Listen registers a subscriber and invokes the handler for each event until
// ctx is cancelled.
func (b *Bus) Listen(ctx context.Context, h bus.Handler) error {
	ch := make(chan ticket.UpdateEvent, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			h(ctx, ev)
		}
	}
}
