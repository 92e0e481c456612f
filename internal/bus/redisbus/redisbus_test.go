package redisbus_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/bus/redisbus"
	"github.com/linnemanlabs/triagehub/internal/ticket"
)

func openBus(t *testing.T) (*redisbus.Bus, *redis.Client) {
	t.Helper()
	url := os.Getenv("TRIAGEHUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TRIAGEHUB_TEST_REDIS_URL not set, skipping integration test")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("redis.ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return redisbus.New(client, nil, nil), client
}

// listen starts Listen in the background and returns a channel of received
// events. The subscription is confirmed before returning so a subsequent
// publish is not lost.
func listen(t *testing.T, b *redisbus.Bus, client *redis.Client) (<-chan ticket.UpdateEvent, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan ticket.UpdateEvent, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Listen(ctx, func(_ context.Context, ev ticket.UpdateEvent) {
			events <- ev
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := client.PubSubNumSub(context.Background(), bus.Channel).Result()
		if err == nil && n[bus.Channel] > 0 {
			return events, cancel, errCh
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("listener never subscribed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPublishReachesListener(t *testing.T) {
	b, client := openBus(t)
	events, cancel, _ := listen(t, b, client)
	defer cancel()

	want := ticket.UpdateEvent{
		TicketID:  42,
		Status:    ticket.StatusCompleted,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := b.PublishUpdate(context.Background(), want); err != nil {
		t.Fatalf("PublishUpdate: %v", err)
	}

	select {
	case got := <-events:
		if got.TicketID != want.TicketID || got.Status != want.Status {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestListenSkipsMalformedMessages(t *testing.T) {
	b, client := openBus(t)
	events, cancel, _ := listen(t, b, client)
	defer cancel()

	ctx := context.Background()
	if err := client.Publish(ctx, bus.Channel, "not json").Err(); err != nil {
		t.Fatalf("publish junk: %v", err)
	}
	if err := client.Publish(ctx, bus.Channel, `{"event":"something_else","ticket_id":1}`).Err(); err != nil {
		t.Fatalf("publish wrong event: %v", err)
	}
	if err := b.PublishUpdate(ctx, ticket.UpdateEvent{TicketID: 9, Status: ticket.StatusFailed}); err != nil {
		t.Fatalf("PublishUpdate: %v", err)
	}

	select {
	case got := <-events:
		if got.TicketID != 9 {
			t.Errorf("TicketID = %d, want 9 (malformed messages must be skipped)", got.TicketID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid event never arrived")
	}
}

func TestListenReturnsOnCancel(t *testing.T) {
	b, client := openBus(t)
	_, cancel, errCh := listen(t, b, client)

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Listen err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
