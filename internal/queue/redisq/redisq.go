// Package redisq implements the work queue on a Redis list, shared by all
// worker processes competing for pending tickets.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key is the Redis list holding pending ticket ids.
const Key = "triage:queue"

// popTimeout bounds each blocking pop so cancellation is observed promptly.
const popTimeout = time.Second

// Queue is a Redis-backed work queue.
type Queue struct {
	client *redis.Client
}

// New creates a Queue on an existing client. The client is owned by the
// caller.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes a ticket id onto the queue.
func (q *Queue) Enqueue(ctx context.Context, ticketID int64) error {
	if err := q.client.LPush(ctx, Key, strconv.FormatInt(ticketID, 10)).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", Key, err)
	}
	return nil
}

// Dequeue blocks until a ticket id is available or ctx is cancelled. Entries
// that fail to parse as integers are dropped.
func (q *Queue) Dequeue(ctx context.Context) (int64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		res, err := q.client.BRPop(ctx, popTimeout, Key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("brpop %s: %w", Key, err)
		}

		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		id, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			continue
		}
		return id, nil
	}
}
