// Package pgstore provides a PostgreSQL implementation of ticket.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/priorityops/internal/postgres"
	"github.com/linnemanlabs/priorityops/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/priorityops/internal/ticket/pgstore")

//go:embed schema.sql
var schema string

// Store persists tickets in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const ticketColumns = `id, title, description, priority, status, department, assignee, category,
	confidence_score, estimated_resolution_time, recommended_solution_steps, duplicate_of,
	created_at, updated_at, resolved_at, escalated_at, audit_trail, tags`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if t == nil {
		return nil, false, nil
	}
	return t, true, nil
}

// Create inserts a new ticket, assigning an ID, timestamps and status when unset.
func (s *Store) Create(ctx context.Context, t *ticket.Ticket) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = ticket.StatusPending
	}
	t.Tags = ticket.NormalizeTags(t.Tags)

	args, err := rowArgs(t)
	if err != nil {
		return fail(span, err)
	}
	query := `INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fail(span, fmt.Errorf("insert ticket: %w", err))
	}
	return nil
}

// Update locks the row, checks the mutation's ExpectStatus against the current
// status and writes the mutated ticket back in the same transaction.
func (s *Store) Update(ctx context.Context, id string, m *ticket.Mutation, entry ticket.AuditEntry) (int64, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1 FOR UPDATE`
	t, err := scanTicket(tx.QueryRow(ctx, query, id))
	if err != nil {
		return 0, fail(span, err)
	}
	if t == nil || !m.Matches(t.Status) {
		span.SetAttributes(attribute.Int64("db.rows_matched", 0))
		return 0, nil
	}

	m.ApplyTo(t, entry)
	args, err := rowArgs(t)
	if err != nil {
		return 0, fail(span, err)
	}

	tag, err := tx.Exec(ctx, `UPDATE tickets SET
		title = $2, description = $3, priority = $4, status = $5, department = $6,
		assignee = $7, category = $8, confidence_score = $9, estimated_resolution_time = $10,
		recommended_solution_steps = $11, duplicate_of = $12, created_at = $13, updated_at = $14,
		resolved_at = $15, escalated_at = $16, audit_trail = $17, tags = $18
		WHERE id = $1`, args...)
	if err != nil {
		return 0, fail(span, fmt.Errorf("update ticket: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fail(span, fmt.Errorf("commit: %w", err))
	}
	span.SetAttributes(attribute.Int64("db.rows_matched", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// Delete removes a ticket by ID.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return false, fail(span, fmt.Errorf("delete ticket: %w", err))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag.RowsAffected() > 0, nil
}

// Find returns tickets matching f ordered by updated_at, then id.
func (s *Store) Find(ctx context.Context, f ticket.Filter) ([]*ticket.Ticket, error) {
	ctx, span := startSpan(ctx, "pgstore.Find", "SELECT")
	defer span.End()

	query, args := buildFindQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query tickets: %w", err))
	}
	defer rows.Close()

	out := make([]*ticket.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate tickets: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

func buildFindQuery(f ticket.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ss[i] = string(st)
		}
		args = append(args, ss)
		where = append(where, "status = ANY($"+strconv.Itoa(len(args))+")")
	}
	if len(f.Priorities) > 0 {
		ps := make([]string, len(f.Priorities))
		for i, p := range f.Priorities {
			ps[i] = string(p)
		}
		args = append(args, ps)
		where = append(where, "priority = ANY($"+strconv.Itoa(len(args))+")")
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		where = append(where, "updated_at < $"+strconv.Itoa(len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + ticketColumns + ` FROM tickets`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY updated_at, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

// rowArgs returns the column values in ticketColumns order.
func rowArgs(t *ticket.Ticket) ([]any, error) {
	steps := t.RecommendedSolutionSteps
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	audit := t.AuditTrail
	if audit == nil {
		audit = []ticket.AuditEntry{}
	}
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, fmt.Errorf("marshal audit trail: %w", err)
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		t.ID, t.Title, t.Description, string(t.Priority), string(t.Status), t.Department,
		t.Assignee, t.Category, t.ConfidenceScore, t.EstimatedResolutionTime, stepsJSON, t.DuplicateOf,
		t.CreatedAt, t.UpdatedAt, t.ResolvedAt, t.EscalatedAt, auditJSON, tags,
	}, nil
}

// scanTicket scans a single row into a ticket.
// Returns (nil, nil) when no row is found.
func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t         ticket.Ticket
		priority  string
		status    string
		stepsJSON []byte
		auditJSON []byte
	)

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &priority, &status, &t.Department,
		&t.Assignee, &t.Category, &t.ConfidenceScore, &t.EstimatedResolutionTime, &stepsJSON, &t.DuplicateOf,
		&t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt, &t.EscalatedAt, &auditJSON, &t.Tags,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	t.Priority = ticket.Priority(priority)
	t.Status = ticket.Status(status)

	if err := json.Unmarshal(stepsJSON, &t.RecommendedSolutionSteps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if len(t.RecommendedSolutionSteps) == 0 {
		t.RecommendedSolutionSteps = nil
	}
	if err := json.Unmarshal(auditJSON, &t.AuditTrail); err != nil {
		return nil, fmt.Errorf("unmarshal audit trail: %w", err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	return &t, nil
}
