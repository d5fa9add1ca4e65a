package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSequenceConflict = errors.New("sequence conflict: concurrent append for loan")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one audit record in the circulation trail. Entries for a loan
// carry a per-loan sequence so concurrent appends are detectable.
type Entry struct {
	ID        int64     `json:"id"`
	LoanID    uuid.UUID `json:"loan_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the append-only audit trail of circulation state changes. It is
// bookkeeping, not the source of truth: the registry and ledger rows are
// authoritative.
type Log struct {
	db     *sql.DB
	tracer trace.Tracer
}

// New creates an audit log over the given database.
func New(db *sql.DB) *Log {
	return &Log{
		db:     db,
		tracer: otel.Tracer("shelftrack/eventlog"),
	}
}

// EnsureSchema creates the circulation_events table if it does not exist.
func (l *Log) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS circulation_events (
			id BIGSERIAL PRIMARY KEY,
			loan_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			seq INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (loan_id, seq)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure circulation_events schema: %w", err)
	}
	return nil
}

// Record appends one event for a loan, assigning the next sequence number.
// Two concurrent appends for the same loan race on the unique constraint;
// the loser gets ErrSequenceConflict and may retry.
func (l *Log) Record(ctx context.Context, loanID uuid.UUID, eventType string, payload any) error {
	ctx, span := l.tracer.Start(ctx, "eventlog.record",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.String("event.type", eventType),
		),
	)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1
		FROM circulation_events
		WHERE loan_id = $1
	`, loanID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO circulation_events (loan_id, event_type, payload, seq, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, loanID, eventType, data, seq, time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrSequenceConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	span.SetAttributes(attribute.Int("event.seq", seq))
	return nil
}

// History returns every event for a loan in sequence order.
func (l *Log) History(ctx context.Context, loanID uuid.UUID) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.history",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, loan_id, event_type, payload, seq, created_at
		FROM circulation_events
		WHERE loan_id = $1
		ORDER BY seq ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}

// Stream provides a cursor-based feed of all events for reporting.
func (l *Log) Stream(ctx context.Context, fromID int64, batchSize int) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, loan_id, event_type, payload, seq, created_at
		FROM circulation_events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(entries)))
	return entries, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LoanID, &e.EventType, &e.Payload, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}
