// Package pgstore provides a PostgreSQL implementation of ticket.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagehub/internal/ticket/pgstore")

//go:embed schema.sql
var schema string

// Store persists tickets in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by the
// caller and is not closed by Close.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ticketColumns = `id, complaint, status, category, sentiment_score, urgency,
	ai_draft_response, ai_status, agent_edited_response, agent_id, resolved_at,
	error_message, created_at, updated_at`

// Create inserts a ticket with status pending.
func (s *Store) Create(ctx context.Context, complaint string) (*ticket.Ticket, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	query := `INSERT INTO tickets (complaint) VALUES ($1) RETURNING ` + ticketColumns
	t, err := scanTicket(s.pool.QueryRow(ctx, query, complaint))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id int64) (*ticket.Ticket, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return t, true, nil
}

// List returns a page of tickets (newest first) and the total match count.
func (s *Store) List(ctx context.Context, f ticket.ListFilter) ([]*ticket.Ticket, int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	where, args := buildFilter(f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tickets`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	limit := f.PerPage
	offset := (f.Page - 1) * f.PerPage
	query := `SELECT ` + ticketColumns + ` FROM tickets` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, total, nil
}

// Claim atomically transitions pending -> processing. This single conditional
// update is the concurrency-safety mechanism for processing ownership: zero
// affected rows means another actor got there first.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, "pgstore.Claim", id, ticket.StatusPending, ticket.StatusProcessing)
}

// Reclaim atomically transitions failed -> processing for same-invocation
// retries.
func (s *Store) Reclaim(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, "pgstore.Reclaim", id, ticket.StatusFailed, ticket.StatusProcessing)
}

func (s *Store) transition(ctx context.Context, op string, id int64, from, to ticket.Status) (bool, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.Int64("triagehub.ticket.id", id),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete merges a TriageResult, conditional on the row still being in
// processing.
func (s *Store) Complete(ctx context.Context, id int64, res ticket.TriageResult) (*ticket.Ticket, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Complete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.Int64("triagehub.ticket.id", id),
	))
	defer span.End()

	query := `UPDATE tickets SET
		category = $2, sentiment_score = $3, urgency = $4,
		ai_draft_response = $5, ai_status = $6,
		status = 'completed', error_message = NULL, updated_at = now()
	WHERE id = $1 AND status = 'processing'
	RETURNING ` + ticketColumns

	t, err := scanTicket(s.pool.QueryRow(ctx, query,
		id, string(res.Category), res.SentimentScore, string(res.Urgency),
		res.DraftResponse, string(res.AIStatus),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("complete ticket: %w", err)
	}
	return t, true, nil
}

// MarkFailed records a failure, conditional on the row still being in
// processing.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) (*ticket.Ticket, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.MarkFailed", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.Int64("triagehub.ticket.id", id),
	))
	defer span.End()

	query := `UPDATE tickets SET
		status = 'failed', error_message = $2, updated_at = now()
	WHERE id = $1 AND status = 'processing'
	RETURNING ` + ticketColumns

	t, err := scanTicket(s.pool.QueryRow(ctx, query, id, errMsg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("mark ticket failed: %w", err)
	}
	return t, true, nil
}

// UpdateAgentResponse stores an agent's edited response text.
func (s *Store) UpdateAgentResponse(ctx context.Context, id int64, response string) (*ticket.Ticket, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.UpdateAgentResponse", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.Int64("triagehub.ticket.id", id),
	))
	defer span.End()

	query := `UPDATE tickets SET agent_edited_response = $2, updated_at = now()
	WHERE id = $1
	RETURNING ` + ticketColumns

	t, err := scanTicket(s.pool.QueryRow(ctx, query, id, response))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("update agent response: %w", err)
	}
	return t, true, nil
}

// Resolve records manual resolution. Rows currently in processing are skipped
// by the conditional update so manual intervention never races a worker's
// commit; ErrClaimHeld is returned in that case.
func (s *Store) Resolve(ctx context.Context, id int64, agentID string) (*ticket.Ticket, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Resolve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
		attribute.Int64("triagehub.ticket.id", id),
	))
	defer span.End()

	query := `UPDATE tickets SET
		status = 'completed', agent_id = $2,
		resolved_at = COALESCE(resolved_at, now()), updated_at = now()
	WHERE id = $1 AND status <> 'processing'
	RETURNING ` + ticketColumns

	t, err := scanTicket(s.pool.QueryRow(ctx, query, id, agentID))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("resolve ticket: %w", err)
	}

	// No row matched: either the ticket does not exist or a worker holds it.
	if _, ok, err := s.Get(ctx, id); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}
	return nil, true, ticket.ErrClaimHeld
}

func buildFilter(f ticket.ListFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Urgency != nil {
		add("urgency = $%d", string(*f.Urgency))
	}
	if f.Category != nil {
		add("category = $%d", string(*f.Category))
	}
	if f.AIStatus != nil {
		add("ai_status = $%d", string(*f.AIStatus))
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanTicket scans a single row into a Ticket.
func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t          ticket.Ticket
		category   *string
		score      *int
		urgency    *string
		draft      *string
		aiStatus   *string
		agentResp  *string
		agentID    *string
		resolvedAt *time.Time
		errMsg     *string
		status     string
	)

	err := row.Scan(
		&t.ID, &t.Complaint, &status, &category, &score, &urgency,
		&draft, &aiStatus, &agentResp, &agentID, &resolvedAt,
		&errMsg, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = ticket.Status(status)
	if category != nil {
		c := ticket.Category(*category)
		t.Category = &c
	}
	t.SentimentScore = score
	if urgency != nil {
		u := ticket.Urgency(*urgency)
		t.Urgency = &u
	}
	t.AIDraftResponse = draft
	if aiStatus != nil {
		a := ticket.AIStatus(*aiStatus)
		t.AIStatus = &a
	}
	t.AgentEditedResponse = agentResp
	t.AgentID = agentID
	t.ResolvedAt = resolvedAt
	t.ErrorMessage = errMsg

	return &t, nil
}
