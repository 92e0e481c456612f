// Package pipeline implements the claim-and-process worker pool: it drains
// ticket ids from the work queue, takes exclusive processing ownership via
// the store's atomic claim, runs the classifier, commits the result, and
// retries failures up to a fixed bound.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/triagehub/internal/bus"
	"github.com/linnemanlabs/triagehub/internal/queue"
	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// Defaults for the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultWorkers     = 2
)

// Triager is the classifier boundary the pipeline depends on.
type Triager interface {
	Triage(ctx context.Context, complaint string) (ticket.TriageResult, error)
}

// Pipeline claims and processes pending tickets.
type Pipeline struct {
	store   ticket.Store
	triager Triager
	pub     bus.Publisher
	q       queue.Queue
	logger  log.Logger
	metrics *ticket.Metrics

	maxAttempts int
	retryDelay  time.Duration
	workers     int
}

// Options configures optional Pipeline behavior; zero values take defaults.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Workers     int
	Logger      log.Logger
	Metrics     *ticket.Metrics
}

// New creates a Pipeline.
func New(store ticket.Store, triager Triager, pub bus.Publisher, q queue.Queue, opts Options) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("pipeline store is required")
	}
	if triager == nil {
		return nil, errors.New("pipeline triager is required")
	}
	if pub == nil {
		return nil, errors.New("pipeline publisher is required")
	}
	if q == nil {
		return nil, errors.New("pipeline queue is required")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Pipeline{
		store:       store,
		triager:     triager,
		pub:         pub,
		q:           q,
		logger:      logger,
		metrics:     opts.Metrics,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		workers:     workers,
	}, nil
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight job has finished.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.worker(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, n int) {
	L := p.logger.With("worker", n)
	L.Info(ctx, "worker started")

	for {
		id, err := p.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				L.Info(context.Background(), "worker stopping")
				return
			}
			L.Error(ctx, err, "dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		// Run the job on a context detached from queue cancellation so a
		// shutdown mid-job lets the in-flight unit finish or fail cleanly.
		if err := p.Process(context.WithoutCancel(ctx), id); err != nil {
			L.Error(ctx, err, "triage job exhausted retries", "ticket_id", id)
		}
	}
}

// Process runs the bounded retry loop for one ticket id. Retry state is
// tracked against this invocation, not re-derived from ticket status: only
// the invocation that claimed the ticket may re-claim it out of failed.
func (p *Pipeline) Process(ctx context.Context, id int64) error {
	jobID := ulid.Make().String()
	L := p.logger.With("job_id", jobID, "ticket_id", id)

	start := time.Now()
	claimed := false
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		outcome, err := p.attempt(ctx, L, id, &claimed)
		if err == nil {
			p.observe(outcome, attempt, time.Since(start))
			return nil
		}
		lastErr = err
		L.Error(ctx, err, "triage attempt failed", "attempt", attempt, "max_attempts", p.maxAttempts)

		if attempt < p.maxAttempts {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				p.observe(string(ticket.StatusFailed), attempt, time.Since(start))
				return fmt.Errorf("retry interrupted: %w", ctx.Err())
			}
		}
	}

	p.observe(string(ticket.StatusFailed), p.maxAttempts, time.Since(start))
	return fmt.Errorf("triage failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// attempt performs one claim-and-process cycle. The returned outcome is a
// metrics label; a nil error means the attempt is conclusive (processed,
// contention, or externally resolved) and the retry loop must stop.
func (p *Pipeline) attempt(ctx context.Context, L log.Logger, id int64, claimed *bool) (string, error) {
	if *claimed {
		// This invocation marked the ticket failed on a previous attempt;
		// re-claim it out of failed. Zero rows means an external actor
		// resolved it meanwhile, which ends the job.
		ok, err := p.store.Reclaim(ctx, id)
		if err != nil {
			return "", fmt.Errorf("reclaim: %w", err)
		}
		if !ok {
			L.Warn(ctx, "ticket no longer retryable, skipping")
			return "abandoned", nil
		}
	} else {
		ok, err := p.store.Claim(ctx, id)
		if err != nil {
			p.countClaim("error")
			return "", fmt.Errorf("claim: %w", err)
		}
		if !ok {
			// Another actor already claimed or resolved the ticket. Expected
			// under concurrent workers; not a failure.
			p.countClaim("contention")
			L.Info(ctx, "ticket not claimable, skipping")
			return "contention", nil
		}
		p.countClaim("claimed")
		*claimed = true
		L.Info(ctx, "ticket claimed")
	}

	t, ok, err := p.store.Get(ctx, id)
	if err != nil {
		return "", p.fail(ctx, L, id, fmt.Errorf("load ticket: %w", err))
	}
	if !ok {
		return "", p.fail(ctx, L, id, fmt.Errorf("ticket %d disappeared after claim", id))
	}

	res, err := p.triager.Triage(ctx, t.Complaint)
	if err != nil {
		return "", p.fail(ctx, L, id, fmt.Errorf("classify: %w", err))
	}

	updated, ok, err := p.store.Complete(ctx, id, res)
	if err != nil {
		return "", p.fail(ctx, L, id, fmt.Errorf("commit result: %w", err))
	}
	if !ok {
		// External intervention between claim and commit; the store's
		// conditional update kept the intervening state. Nothing to emit.
		L.Warn(ctx, "ticket left processing before commit, dropping result")
		return "abandoned", nil
	}

	p.publish(ctx, L, updated)
	L.Info(ctx, "triage complete",
		"category", string(res.Category),
		"urgency", string(res.Urgency),
		"sentiment", res.SentimentScore,
		"ai_status", string(res.AIStatus),
	)
	return string(ticket.StatusCompleted), nil
}

// fail transitions the ticket to failed with a truncated message, emits the
// event, and passes the cause on to the retry loop.
func (p *Pipeline) fail(ctx context.Context, L log.Logger, id int64, cause error) error {
	t, ok, err := p.store.MarkFailed(ctx, id, ticket.TruncateError(cause.Error()))
	if err != nil {
		L.Error(ctx, err, "failed to record ticket failure")
		return cause
	}
	if !ok {
		L.Warn(ctx, "ticket left processing before failure could be recorded")
		return cause
	}
	p.publish(ctx, L, t)
	return cause
}

// publish emits the UpdateEvent for a committed transition. Best effort: a
// broker failure is logged and never fails the transition.
func (p *Pipeline) publish(ctx context.Context, L log.Logger, t *ticket.Ticket) {
	if err := p.pub.PublishUpdate(ctx, ticket.NewUpdateEvent(t)); err != nil {
		if p.metrics != nil {
			p.metrics.EventsPublished.WithLabelValues("error").Inc()
		}
		L.Warn(ctx, "event publish failed", "error", err.Error())
		return
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues("ok").Inc()
	}
}

func (p *Pipeline) observe(outcome string, attempts int, dur time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.TriagesTotal.WithLabelValues(outcome).Inc()
	p.metrics.TriageDuration.WithLabelValues(outcome).Observe(dur.Seconds())
	p.metrics.TriageAttempts.Observe(float64(attempts))
}

func (p *Pipeline) countClaim(outcome string) {
	if p.metrics != nil {
		p.metrics.ClaimsTotal.WithLabelValues(outcome).Inc()
	}
}
