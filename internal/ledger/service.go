// internal/ledger/service.go
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

// OpenLoanRequest carries everything needed to open one ledger record.
// ID may be pre-assigned by the caller so the copy registry can reference
// the loan before the record exists; a nil ID is generated on open.
type OpenLoanRequest struct {
	ID               uuid.UUID
	CopyID           uuid.UUID
	TrackingCode     string
	Borrower         Borrower
	BorrowedAt       time.Time
	DueAt            time.Time
	ConditionAtIssue catalog.Condition
	Notes            string
}

// Service defines the interface for the loan ledger.
type Service interface {
	Open(ctx context.Context, req OpenLoanRequest) (*Loan, error)
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)
	FindActiveByTrackingCode(ctx context.Context, code string) (*Loan, error)
	ListActive(ctx context.Context) ([]*Loan, error)
	Close(ctx context.Context, id uuid.UUID, closure Closure) error
	SetFinePaid(ctx context.Context, id uuid.UUID, paid bool) error
	MarkOverdue(ctx context.Context, id uuid.UUID) error
	MarkRecovered(ctx context.Context, id uuid.UUID, cond catalog.Condition, note string) error
}
