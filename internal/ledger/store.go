// internal/ledger/store.go
package ledger

import (
	"context"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

// Store is the abstract loan ledger the engine is written against. The
// postgres store is authoritative; CachedStore layers an offline local
// tier on top without the engine knowing.
type Store interface {
	Insert(ctx context.Context, loan *Loan) error
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)

	// FindActiveByTrackingCode is the key lookup of return processing.
	// It scans active loans only and returns ErrLoanNotFound when no
	// active loan holds the code.
	FindActiveByTrackingCode(ctx context.Context, code string) (*Loan, error)

	ListActive(ctx context.Context) ([]*Loan, error)

	// Close transitions active -> returned once; a second close fails
	// with ErrLoanNotActive. This is the idempotent double-return guard.
	Close(ctx context.Context, id uuid.UUID, closure Closure) error

	SetFinePaid(ctx context.Context, id uuid.UUID, paid bool) error

	// MarkOverdue flags an active loan past its due date. Derived
	// bookkeeping only; it does not change the lifecycle status.
	MarkOverdue(ctx context.Context, id uuid.UUID) error

	// MarkRecovered records that a copy closed as lost has resurfaced:
	// the lost flag drops and the presented condition is recorded. Fails
	// with ErrLoanNotLost unless the loan is returned and lost.
	MarkRecovered(ctx context.Context, id uuid.UUID, cond catalog.Condition, note string) error
}
