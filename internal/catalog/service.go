// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Registry is the single source of truth for whether a copy is loanable
// right now. Every transition updates the one BookCopy record in place.
type Registry interface {
	AddCopy(ctx context.Context, copy *BookCopy) error
	Lookup(ctx context.Context, trackingCode string) (*BookCopy, error)
	List(ctx context.Context) ([]*BookCopy, error)

	// MarkBorrowed moves available -> borrowed, recording the loan that
	// holds the copy. Fails with ErrAlreadyBorrowed unless the copy is
	// available; this is the compare-and-swap that serializes issues.
	MarkBorrowed(ctx context.Context, trackingCode string, loanID uuid.UUID) error

	// MarkAvailable moves borrowed -> available, persisting the condition
	// assessed at return. Fails with ErrNotBorrowed otherwise.
	MarkAvailable(ctx context.Context, trackingCode string, cond Condition) error

	// MarkLost is settable from either available or borrowed: a copy can
	// be declared lost at return time or while on the shelf.
	MarkLost(ctx context.Context, trackingCode string) error

	// MarkRecovered moves lost -> available when a lost copy resurfaces.
	// Fails with ErrNotLost otherwise.
	MarkRecovered(ctx context.Context, trackingCode string, cond Condition) error
}
