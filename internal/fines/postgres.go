// internal/fines/postgres.go
package fines

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists fines in the fines table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fines (
			id UUID PRIMARY KEY,
			borrower_id UUID NOT NULL,
			loan_id UUID,
			fine_type TEXT NOT NULL,
			amount NUMERIC(10,2) NOT NULL CHECK (amount >= 0),
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			waiver_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_fines_borrower ON fines (borrower_id);
		CREATE INDEX IF NOT EXISTS idx_fines_loan ON fines (loan_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure fines schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, fine *Fine) error {
	if fine.Amount < 0 {
		return ErrNegativeAmount
	}
	if fine.ID == uuid.Nil {
		fine.ID = uuid.New()
	}
	if fine.Status == "" {
		fine.Status = StatusUnpaid
	}

	var loanID any
	if fine.LoanID != uuid.Nil {
		loanID = fine.LoanID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fines (id, borrower_id, loan_id, fine_type, amount, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fine.ID, fine.BorrowerID, loanID, fine.Type, fine.Amount, fine.Status, fine.Description)
	if err != nil {
		return fmt.Errorf("insert fine: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Fine, error) {
	return scanFine(s.db.QueryRowContext(ctx, selectFine+` WHERE id = $1`, id))
}

func (s *PostgresStore) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Fine, error) {
	return s.list(ctx, selectFine+` WHERE borrower_id = $1 ORDER BY created_at`, borrowerID)
}

func (s *PostgresStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Fine, error) {
	return s.list(ctx, selectFine+` WHERE loan_id = $1 ORDER BY created_at`, loanID)
}

func (s *PostgresStore) MarkPaid(ctx context.Context, id uuid.UUID) error {
	return s.settle(ctx, id, `UPDATE fines SET status = 'paid', updated_at = NOW() WHERE id = $1 AND status = 'unpaid'`)
}

func (s *PostgresStore) Clear(ctx context.Context, id uuid.UUID, reason string) error {
	return s.settle(ctx, id, `UPDATE fines SET status = 'cleared', waiver_reason = $2, updated_at = NOW() WHERE id = $1 AND status = 'unpaid'`, reason)
}

// settle applies a conditional status update; zero rows means the fine is
// either missing or already settled.
func (s *PostgresStore) settle(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("settle fine: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle fine rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrFineSettled
	}
	return nil
}

const selectFine = `
	SELECT id, borrower_id, loan_id, fine_type, amount, status, description, waiver_reason, created_at, updated_at
	FROM fines`

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Fine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fines: %w", err)
	}
	defer rows.Close()

	var out []*Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fines: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFine(row rowScanner) (*Fine, error) {
	f := &Fine{}
	var loanID sql.NullString
	err := row.Scan(&f.ID, &f.BorrowerID, &loanID, &f.Type, &f.Amount, &f.Status, &f.Description, &f.WaiverReason, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan fine: %w", err)
	}
	if loanID.Valid {
		id, err := uuid.Parse(loanID.String)
		if err != nil {
			return nil, fmt.Errorf("parse fine loan id: %w", err)
		}
		f.LoanID = id
	}
	return f, nil
}
