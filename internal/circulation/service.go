// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
	"shelftrack/internal/ledger"
)

// Service defines the interface for the circulation engine.
type Service interface {
	// Issue lends a copy to an individual borrower or a student group.
	Issue(ctx context.Context, req IssueRequest) (*ledger.Loan, error)

	// Return reconciles a presented copy against the loan being closed:
	// a normal return, a theft detection, or an unknown-code rejection.
	Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error)

	// BookFound accepts a copy previously closed as lost, waiving the
	// lost fine on operator confirmation.
	BookFound(ctx context.Context, loanID uuid.UUID, cond catalog.Condition) (*ledger.Loan, error)
}
