// Package redisbus implements the event bridge on Redis pub/sub, the
// production path for crossing process boundaries between workers and the
// API servers.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Bus publishes and consumes UpdateEvents on the shared Redis channel.
type Bus struct {
	client  *redis.Client
	logger  log.Logger
	metrics *ticket.Metrics
}

// New creates a Bus on an existing client. The client is owned by the caller.
func New(client *redis.Client, logger log.Logger, metrics *ticket.Metrics) *Bus {
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{client: client, logger: logger, metrics: metrics}
}

// PublishUpdate serializes the event envelope and publishes it. Callers treat
// a returned error as log-and-continue.
func (b *Bus) PublishUpdate(ctx context.Context, ev ticket.UpdateEvent) error {
	payload, err := json.Marshal(bus.Message{
		Event:    bus.EventTicketUpdated,
		TicketID: ev.TicketID,
		Data:     ev,
	})
	if err != nil {
		return fmt.Errorf("marshal update event: %w", err)
	}

	if err := b.client.Publish(ctx, bus.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", bus.Channel, err)
	}
	b.logger.Info(ctx, "published ticket update", "ticket_id", ev.TicketID, "status", string(ev.Status))
	return nil
}

// Listen subscribes to the channel and invokes the handler for each decoded
// event until ctx is cancelled. Malformed messages are logged and skipped;
// they never terminate the loop. The underlying subscription is closed on
// return so the broker connection is not leaked.
func (b *Bus) Listen(ctx context.Context, h bus.Handler) error {
	pubsub := b.client.Subscribe(ctx, bus.Channel)
	defer func() { _ = pubsub.Close() }()

	// Fail fast if the subscription could not be established.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", bus.Channel, err)
	}
	b.logger.Info(ctx, "subscribed to channel", "channel", bus.Channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m bus.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.countReceive("malformed")
				b.logger.Error(ctx, err, "invalid JSON in pubsub message")
				continue
			}
			if m.Event != bus.EventTicketUpdated {
				b.countReceive("malformed")
				b.logger.Warn(ctx, "unexpected event on channel", "event", m.Event)
				continue
			}
			b.countReceive("ok")
			h(ctx, m.Data)
		}
	}
}

func (b *Bus) countReceive(outcome string) {
	if b.metrics != nil {
		b.metrics.EventsReceived.WithLabelValues(outcome).Inc()
	}
}
