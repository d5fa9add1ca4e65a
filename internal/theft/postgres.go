// internal/theft/postgres.go
package theft

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists theft cases in the theft_cases table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS theft_cases (
			id UUID PRIMARY KEY,
			accused_id UUID NOT NULL,
			victim_id UUID NOT NULL,
			accused_loan_id UUID NOT NULL,
			victim_loan_id UUID NOT NULL,
			expected_tracking_code TEXT NOT NULL,
			returned_tracking_code TEXT NOT NULL,
			fine_id UUID NOT NULL,
			status TEXT NOT NULL,
			investigation_notes TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL DEFAULT '',
			reported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_theft_cases_status ON theft_cases (status);
	`)
	if err != nil {
		return fmt.Errorf("ensure theft_cases schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusReported
	}
	if c.ReportedAt.IsZero() {
		c.ReportedAt = time.Now().UTC()
	}

	var resolvedAt any
	if c.ResolvedAt != nil {
		resolvedAt = *c.ResolvedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO theft_cases (id, accused_id, victim_id, accused_loan_id, victim_loan_id,
			expected_tracking_code, returned_tracking_code, fine_id, status, investigation_notes,
			resolution, reported_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.AccusedID, c.VictimID, c.AccusedLoanID, c.VictimLoanID,
		c.ExpectedTrackingCode, c.ReturnedTrackingCode, c.FineID, c.Status, c.InvestigationNotes,
		c.Resolution, c.ReportedAt, resolvedAt)
	if err != nil {
		return fmt.Errorf("insert theft case: %w", err)
	}
	return nil
}

const selectCase = `
	SELECT id, accused_id, victim_id, accused_loan_id, victim_loan_id, expected_tracking_code,
		returned_tracking_code, fine_id, status, investigation_notes, resolution, reported_at, resolved_at
	FROM theft_cases`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(s.db.QueryRowContext(ctx, selectCase+` WHERE id = $1`, id))
}

func (s *PostgresStore) List(ctx context.Context, status Status) ([]*Case, error) {
	query := selectCase + ` ORDER BY reported_at`
	args := []any{}
	if status != "" {
		query = selectCase + ` WHERE status = $1 ORDER BY reported_at`
		args = append(args, status)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list theft cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate theft cases: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetInvestigating(ctx context.Context, id uuid.UUID, notes string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE theft_cases
		SET status = 'investigating',
			investigation_notes = CASE WHEN investigation_notes = '' THEN $2 ELSE investigation_notes || '; ' || $2 END
		WHERE id = $1 AND status IN ('reported', 'investigating')
	`, id, notes)
	if err != nil {
		return fmt.Errorf("set investigating: %w", err)
	}
	return s.guardOneRow(ctx, res, id)
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE theft_cases
		SET status = 'resolved', resolution = $2, resolved_at = $3
		WHERE id = $1 AND status IN ('reported', 'investigating')
	`, id, resolution, at)
	if err != nil {
		return fmt.Errorf("resolve theft case: %w", err)
	}
	return s.guardOneRow(ctx, res, id)
}

func (s *PostgresStore) guardOneRow(ctx context.Context, res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrCaseAlreadyResolved
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*Case, error) {
	c := &Case{}
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.AccusedID, &c.VictimID, &c.AccusedLoanID, &c.VictimLoanID,
		&c.ExpectedTrackingCode, &c.ReturnedTrackingCode, &c.FineID, &c.Status,
		&c.InvestigationNotes, &c.Resolution, &c.ReportedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan theft case: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	return c, nil
}
