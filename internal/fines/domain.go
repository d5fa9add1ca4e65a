// internal/fines/domain.go
package fines

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFineNotFound   = errors.New("fine not found")
	ErrFineSettled    = errors.New("fine already settled")
	ErrNegativeAmount = errors.New("fine amount must not be negative")
)

// Type categorizes a fine; each category has one rate in the schedule.
type Type string

const (
	TypeOverdue       Type = "overdue"
	TypeConditionFair Type = "condition_fair"
	TypeConditionPoor Type = "condition_poor"
	TypeDamaged       Type = "damaged"
	TypeLostBook      Type = "lost_book"
	TypeTheft         Type = "theft"
)

// Status is the payment state of a fine. Cleared is terminal and always
// carries a waiver reason.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPaid    Status = "paid"
	StatusCleared Status = "cleared"
)

// Fine is a single monetary penalty against a borrower, created when a
// loan closes (or a theft is detected) and mutated only through pay and
// clear actions afterwards.
type Fine struct {
	ID           uuid.UUID `json:"id"`
	BorrowerID   uuid.UUID `json:"borrower_id"`
	LoanID       uuid.UUID `json:"loan_id,omitempty"` // uuid.Nil when not loan-linked
	Type         Type      `json:"type"`
	Amount       float64   `json:"amount"`
	Status       Status    `json:"status"`
	Description  string    `json:"description,omitempty"`
	WaiverReason string    `json:"waiver_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
