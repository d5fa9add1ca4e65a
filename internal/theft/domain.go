// internal/theft/domain.go
package theft

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCaseNotFound        = errors.New("theft case not found")
	ErrCaseAlreadyResolved = errors.New("theft case already resolved")
)

// Status of a theft case. Resolved and closed are terminal.
type Status string

const (
	StatusReported      Status = "reported"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Terminal reports whether no further action may touch the case.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Case records one detected theft: a returned copy whose tracking code
// belonged to another borrower's active loan. The expected code is the one
// the accused should have returned; the returned code is the one actually
// presented.
type Case struct {
	ID                   uuid.UUID  `json:"id"`
	AccusedID            uuid.UUID  `json:"accused_id"`
	VictimID             uuid.UUID  `json:"victim_id"`
	AccusedLoanID        uuid.UUID  `json:"accused_loan_id"`
	VictimLoanID         uuid.UUID  `json:"victim_loan_id"`
	ExpectedTrackingCode string     `json:"expected_tracking_code"`
	ReturnedTrackingCode string     `json:"returned_tracking_code"`
	FineID               uuid.UUID  `json:"fine_id"`
	Status               Status     `json:"status"`
	InvestigationNotes   string     `json:"investigation_notes,omitempty"`
	Resolution           string     `json:"resolution,omitempty"`
	ReportedAt           time.Time  `json:"reported_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
}
