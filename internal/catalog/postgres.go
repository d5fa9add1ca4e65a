// internal/catalog/postgres.go
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRegistry is the authoritative registry backed by the book_copies
// table. Transitions run inside a transaction with a row lock so the status
// check and the update cannot interleave with a concurrent transition.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema creates the book_copies table if it does not exist.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS book_copies (
			id UUID PRIMARY KEY,
			tracking_code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			copy_number INT NOT NULL DEFAULT 1,
			condition TEXT NOT NULL,
			status TEXT NOT NULL,
			active_loan_id UUID,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_book_copies_status ON book_copies (status);
	`)
	if err != nil {
		return fmt.Errorf("ensure book_copies schema: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) AddCopy(ctx context.Context, copy *BookCopy) error {
	if !ValidTrackingCode(copy.TrackingCode) {
		return ErrInvalidTrackingCode
	}
	if !copy.Condition.Valid() {
		return ErrInvalidCondition
	}
	if copy.ID == uuid.Nil {
		copy.ID = uuid.New()
	}
	if copy.Status == "" {
		copy.Status = CopyAvailable
	}

	query := `
		INSERT INTO book_copies (id, tracking_code, title, author, copy_number, condition, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tracking_code) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		copy.ID, copy.TrackingCode, copy.Title, copy.Author, copy.CopyNumber, copy.Condition, copy.Status, copy.Notes)
	if err != nil {
		return fmt.Errorf("insert copy: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert copy rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCopyExists
	}
	return nil
}

func (r *PostgresRegistry) Lookup(ctx context.Context, trackingCode string) (*BookCopy, error) {
	return scanCopy(r.db.QueryRowContext(ctx, `
		SELECT id, tracking_code, title, author, copy_number, condition, status, active_loan_id, notes, created_at, updated_at
		FROM book_copies
		WHERE tracking_code = $1
	`, trackingCode))
}

func (r *PostgresRegistry) List(ctx context.Context) ([]*BookCopy, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tracking_code, title, author, copy_number, condition, status, active_loan_id, notes, created_at, updated_at
		FROM book_copies
		ORDER BY tracking_code
	`)
	if err != nil {
		return nil, fmt.Errorf("list copies: %w", err)
	}
	defer rows.Close()

	var copies []*BookCopy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate copies: %w", err)
	}
	return copies, nil
}

func (r *PostgresRegistry) MarkBorrowed(ctx context.Context, trackingCode string, loanID uuid.UUID) error {
	return r.transition(ctx, trackingCode, func(status CopyStatus) error {
		if status != CopyAvailable {
			return ErrAlreadyBorrowed
		}
		return nil
	}, `UPDATE book_copies SET status = 'borrowed', active_loan_id = $2, updated_at = NOW() WHERE tracking_code = $1`, loanID)
}

func (r *PostgresRegistry) MarkAvailable(ctx context.Context, trackingCode string, cond Condition) error {
	return r.transition(ctx, trackingCode, func(status CopyStatus) error {
		if status != CopyBorrowed {
			return ErrNotBorrowed
		}
		return nil
	}, `UPDATE book_copies SET status = 'available', active_loan_id = NULL, condition = COALESCE(NULLIF($2, ''), condition), updated_at = NOW() WHERE tracking_code = $1`, string(cond))
}

func (r *PostgresRegistry) MarkLost(ctx context.Context, trackingCode string) error {
	return r.transition(ctx, trackingCode, func(status CopyStatus) error {
		return nil // lost is settable from any state
	}, `UPDATE book_copies SET status = 'lost', active_loan_id = NULL, updated_at = NOW() WHERE tracking_code = $1`)
}

func (r *PostgresRegistry) MarkRecovered(ctx context.Context, trackingCode string, cond Condition) error {
	return r.transition(ctx, trackingCode, func(status CopyStatus) error {
		if status != CopyLost {
			return ErrNotLost
		}
		return nil
	}, `UPDATE book_copies SET status = 'available', condition = COALESCE(NULLIF($2, ''), condition), updated_at = NOW() WHERE tracking_code = $1`, string(cond))
}

// transition locks the copy row, verifies the precondition against the
// current status and applies the update, all in one transaction.
func (r *PostgresRegistry) transition(ctx context.Context, trackingCode string, check func(CopyStatus) error, update string, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var status CopyStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM book_copies WHERE tracking_code = $1 FOR UPDATE`, trackingCode).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrCopyNotFound
	}
	if err != nil {
		return fmt.Errorf("lock copy row: %w", err)
	}

	if err := check(status); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, update, append([]any{trackingCode}, args...)...); err != nil {
		return fmt.Errorf("update copy status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCopy(row rowScanner) (*BookCopy, error) {
	c := &BookCopy{}
	var activeLoanID sql.NullString
	var createdAt, updatedAt time.Time
	err := row.Scan(&c.ID, &c.TrackingCode, &c.Title, &c.Author, &c.CopyNumber, &c.Condition, &c.Status, &activeLoanID, &c.Notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan copy: %w", err)
	}
	if activeLoanID.Valid {
		id, err := uuid.Parse(activeLoanID.String)
		if err != nil {
			return nil, fmt.Errorf("parse active loan id: %w", err)
		}
		c.ActiveLoanID = id
	}
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return c, nil
}
