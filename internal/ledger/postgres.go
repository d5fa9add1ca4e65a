// internal/ledger/postgres.go
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"shelftrack/internal/catalog"
)

// PostgresStore is the authoritative loan ledger on the loans table.
// Group membership is a uuid[] column, so a group loan is one row shared
// by every member.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS loans (
			id UUID PRIMARY KEY,
			copy_id UUID NOT NULL,
			tracking_code TEXT NOT NULL,
			borrower_kind TEXT NOT NULL,
			member_ids UUID[] NOT NULL,
			borrowed_at TIMESTAMPTZ NOT NULL,
			due_at TIMESTAMPTZ NOT NULL,
			returned_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			condition_at_issue TEXT NOT NULL,
			condition_at_return TEXT NOT NULL DEFAULT '',
			fine_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
			fine_paid BOOLEAN NOT NULL DEFAULT FALSE,
			lost BOOLEAN NOT NULL DEFAULT FALSE,
			overdue BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT NOT NULL DEFAULT '',
			return_notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_code
			ON loans (tracking_code) WHERE status = 'active';
	`)
	if err != nil {
		return fmt.Errorf("ensure loans schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, loan *Loan) error {
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	if loan.Status == "" {
		loan.Status = LoanActive
	}

	members := make([]string, len(loan.Borrower.MemberIDs))
	for i, id := range loan.Borrower.MemberIDs {
		members[i] = id.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, copy_id, tracking_code, borrower_kind, member_ids, borrowed_at, due_at, status,
			condition_at_issue, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, loan.ID, loan.CopyID, loan.TrackingCode, loan.Borrower.Kind, pq.Array(members),
		loan.BorrowedAt, loan.DueAt, loan.Status, loan.ConditionAtIssue, loan.Notes)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

const selectLoan = `
	SELECT id, copy_id, tracking_code, borrower_kind, member_ids, borrowed_at, due_at, returned_at, status,
		condition_at_issue, condition_at_return, fine_amount, fine_paid, lost, overdue, notes, return_notes,
		created_at, updated_at
	FROM loans`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return scanLoan(s.db.QueryRowContext(ctx, selectLoan+` WHERE id = $1`, id))
}

func (s *PostgresStore) FindActiveByTrackingCode(ctx context.Context, code string) (*Loan, error) {
	return scanLoan(s.db.QueryRowContext(ctx, selectLoan+` WHERE tracking_code = $1 AND status = 'active'`, code))
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Loan, error) {
	rows, err := s.db.QueryContext(ctx, selectLoan+` WHERE status = 'active' ORDER BY borrowed_at`)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}
	defer rows.Close()

	var out []*Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close(ctx context.Context, id uuid.UUID, closure Closure) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET status = 'returned', returned_at = $2, condition_at_return = $3,
			fine_amount = $4, lost = $5, return_notes = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, id, closure.ReturnedAt, closure.Condition, closure.FineAmount, closure.Lost, closure.Notes)
	if err != nil {
		return fmt.Errorf("close loan: %w", err)
	}
	return s.guardOneRow(ctx, res, id, ErrLoanNotActive)
}

func (s *PostgresStore) SetFinePaid(ctx context.Context, id uuid.UUID, paid bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loans SET fine_paid = $2, updated_at = NOW() WHERE id = $1`, id, paid)
	if err != nil {
		return fmt.Errorf("set fine paid: %w", err)
	}
	return s.guardOneRow(ctx, res, id, ErrLoanNotFound)
}

func (s *PostgresStore) MarkOverdue(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loans SET overdue = TRUE, updated_at = NOW() WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("mark overdue: %w", err)
	}
	return s.guardOneRow(ctx, res, id, ErrLoanNotActive)
}

func (s *PostgresStore) MarkRecovered(ctx context.Context, id uuid.UUID, cond catalog.Condition, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET lost = FALSE, condition_at_return = $2,
			return_notes = CASE WHEN return_notes = '' THEN $3 ELSE return_notes || '; ' || $3 END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'returned' AND lost = TRUE
	`, id, cond, note)
	if err != nil {
		return fmt.Errorf("mark recovered: %w", err)
	}
	return s.guardOneRow(ctx, res, id, ErrLoanNotLost)
}

// guardOneRow maps a zero-row conditional update to the right sentinel:
// missing loans report not-found, anything else the supplied error.
func (s *PostgresStore) guardOneRow(ctx context.Context, res sql.Result, id uuid.UUID, miss error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return miss
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*Loan, error) {
	l := &Loan{}
	var members pq.StringArray
	var returnedAt sql.NullTime
	err := row.Scan(&l.ID, &l.CopyID, &l.TrackingCode, &l.Borrower.Kind, &members, &l.BorrowedAt, &l.DueAt,
		&returnedAt, &l.Status, &l.ConditionAtIssue, &l.ConditionAtReturn, &l.FineAmount, &l.FinePaid,
		&l.Lost, &l.Overdue, &l.Notes, &l.ReturnNotes, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	l.Borrower.MemberIDs = make([]uuid.UUID, len(members))
	for i, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("parse member id: %w", err)
		}
		l.Borrower.MemberIDs[i] = id
	}
	if returnedAt.Valid {
		t := returnedAt.Time.UTC()
		l.ReturnedAt = &t
	}
	return l, nil
}
