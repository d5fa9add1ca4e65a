// internal/circulation/domain.go
package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
	"shelftrack/internal/ledger"
	"shelftrack/internal/theft"
)

var (
	ErrCopyUnavailable      = errors.New("copy unavailable for issue")
	ErrBorrowerInactive     = errors.New("borrower is inactive")
	ErrUnknownTrackingCode  = errors.New("tracking code matches no active loan")
	ErrDueDateNotFuture     = errors.New("due date must be in the future")
	ErrNegativeFineOverride = errors.New("fine override must not be negative")
)

// IssueRequest opens a loan for an individual borrower or a student group.
type IssueRequest struct {
	TrackingCode     string
	Borrower         ledger.Borrower
	DueAt            time.Time
	ConditionAtIssue catalog.Condition
	Notes            string

	// OverrideInactive lets the operator proceed for an inactive
	// borrower; the override is logged, not silent.
	OverrideInactive bool
}

// ReturnRequest closes the loan the operator believes they are closing,
// with the tracking code actually presented at the desk. A mismatch
// against another borrower's active loan triggers the theft path.
type ReturnRequest struct {
	LoanID        uuid.UUID
	PresentedCode string
	Condition     catalog.Condition
	Lost          bool
	Notes         string

	// FineOverride replaces the computed total outright when set.
	FineOverride *float64

	// AutoResolveTheft selects the one-shot flow: a detected theft case
	// is created already resolved instead of waiting for review.
	AutoResolveTheft bool
}

// ReturnResult reports what a return did.
type ReturnResult struct {
	Loan       *ledger.Loan `json:"loan"`
	FineAmount float64      `json:"fine_amount"`
	TheftCase  *theft.Case  `json:"theft_case,omitempty"`
}

// Audit event types recorded per loan.
const (
	EventLoanIssued    = "LoanIssued"
	EventLoanReturned  = "LoanReturned"
	EventCopyLost      = "CopyLost"
	EventCopyRecovered = "CopyRecovered"
	EventTheftDetected = "TheftDetected"
	EventFineAssessed  = "FineAssessed"
)

// LoanIssuedEvent is recorded when a copy is issued.
type LoanIssuedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	TrackingCode string    `json:"tracking_code"`
	BorrowerKind string    `json:"borrower_kind"`
	Members      int       `json:"members"`
	DueAt        time.Time `json:"due_at"`
}

// LoanReturnedEvent is recorded when a loan closes normally.
type LoanReturnedEvent struct {
	LoanID      uuid.UUID `json:"loan_id"`
	Condition   string    `json:"condition"`
	FineAmount  float64   `json:"fine_amount"`
	OverdueDays int       `json:"overdue_days"`
	Lost        bool      `json:"lost"`
}

// TheftDetectedEvent is recorded against the accused borrower's loan.
type TheftDetectedEvent struct {
	CaseID       uuid.UUID `json:"case_id"`
	AccusedID    uuid.UUID `json:"accused_id"`
	VictimLoanID uuid.UUID `json:"victim_loan_id"`
	ExpectedCode string    `json:"expected_code"`
	ReturnedCode string    `json:"returned_code"`
}

// CopyLostEvent is recorded when a loan closes with the copy missing.
type CopyLostEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	TrackingCode string    `json:"tracking_code"`
}

// CopyRecoveredEvent is recorded when a lost copy resurfaces.
type CopyRecoveredEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	TrackingCode string    `json:"tracking_code"`
	Condition    string    `json:"condition"`
}

// EventRecorder receives audit events. The postgres event log implements
// it; tests plug in an in-memory recorder.
type EventRecorder interface {
	Record(ctx context.Context, loanID uuid.UUID, eventType string, payload any) error
}

// BorrowerDirectory resolves borrower activity from the external school
// records system.
type BorrowerDirectory interface {
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}
