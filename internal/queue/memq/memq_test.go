package memq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()
	q := New(4)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%d): %v", id, err)
		}
	}

	// FIFO order.
	for _, want := range []int64{1, 2, 3} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue = %d, want %d", got, want)
		}
	}
}

func TestEnqueueFull(t *testing.T) {
	t.Parallel()
	q := New(2)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, 2); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, 3); !errors.Is(err, ErrFull) {
		t.Errorf("Enqueue on full queue: err = %v, want ErrFull", err)
	}

	// Draining one slot makes room again.
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Enqueue(ctx, 3); err != nil {
		t.Errorf("Enqueue after drain: %v", err)
	}
}

func TestDequeueBlocksUntilCancelled(t *testing.T) {
	t.Parallel()
	q := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		t.Fatalf("Dequeue returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Dequeue err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not observe cancellation")
	}
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	t.Parallel()
	q := New(1)
	ctx := context.Background()

	got := make(chan int64, 1)
	go func() {
		id, err := q.Dequeue(ctx)
		if err != nil {
			t.Errorf("Dequeue: %v", err)
			return
		}
		got <- id
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Enqueue(ctx, 42); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case id := <-got:
		if id != 42 {
			t.Errorf("Dequeue = %d, want 42", id)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Dequeue never woke")
	}
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()
	q := New(0)
	ctx := context.Background()

	for i := 0; i < DefaultCapacity; i++ {
		if err := q.Enqueue(ctx, int64(i)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if err := q.Enqueue(ctx, -1); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull at default capacity, got %v", err)
	}
}
