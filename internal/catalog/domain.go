// internal/catalog/domain.go
package catalog

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTrackingCode = errors.New("invalid tracking code format")
	ErrCopyNotFound        = errors.New("copy not found")
	ErrAlreadyBorrowed     = errors.New("copy is not available")
	ErrNotBorrowed         = errors.New("copy is not borrowed")
	ErrNotLost             = errors.New("copy is not lost")
	ErrCopyExists          = errors.New("copy already registered")
	ErrInvalidCondition    = errors.New("invalid condition grade")
)

// CopyStatus is the circulation state of a single physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "available"
	CopyBorrowed  CopyStatus = "borrowed"
	CopyLost      CopyStatus = "lost"
)

// Condition grades a copy's physical wear at issue or return.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionDamaged   Condition = "damaged"
)

// Valid reports whether c is a known condition grade.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// Tracking codes look like BK1/003/25: book-code prefix, copy number, two-digit year.
var trackingCodePattern = regexp.MustCompile(`^[A-Z0-9]{2,4}/\d{3}/\d{2}$`)

// ValidTrackingCode reports whether code matches the tracking-code contract.
func ValidTrackingCode(code string) bool {
	return trackingCodePattern.MatchString(code)
}

// BookCopy is the authoritative record for one physical copy. At most one
// active loan references a copy at a time; ActiveLoanID mirrors that loan
// while the copy is borrowed and is uuid.Nil otherwise. No history lives
// here; history belongs to the loan ledger.
type BookCopy struct {
	ID           uuid.UUID  `json:"id"`
	TrackingCode string     `json:"tracking_code"`
	Title        string     `json:"title"`
	Author       string     `json:"author,omitempty"`
	CopyNumber   int        `json:"copy_number"`
	Condition    Condition  `json:"condition"`
	Status       CopyStatus `json:"status"`
	ActiveLoanID uuid.UUID  `json:"active_loan_id,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
