// internal/ledger/domain.go
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

var (
	ErrLoanNotFound   = errors.New("loan not found")
	ErrLoanNotActive  = errors.New("loan is not active")
	ErrLoanNotLost    = errors.New("loan was not closed as lost")
	ErrEmptyGroup     = errors.New("group loan requires at least one student")
	ErrInvalidDueDate = errors.New("due date must be after the borrowed date")
)

// LoanStatus of a ledger record. A loan transitions active -> returned
// exactly once and is immutable afterwards except for the fine-paid flag.
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
)

// BorrowerKind discriminates the borrower variant on a loan.
type BorrowerKind string

const (
	BorrowerStudent BorrowerKind = "student"
	BorrowerStaff   BorrowerKind = "staff"
	BorrowerGroup   BorrowerKind = "group"
)

// Borrower is the structured borrower reference on a loan: one student,
// one staff member, or a set of students sharing a single copy. Group
// membership is a real field, never metadata parsed out of notes.
type Borrower struct {
	Kind      BorrowerKind `json:"kind"`
	MemberIDs []uuid.UUID  `json:"member_ids"`
}

// Student builds an individual student borrower.
func Student(id uuid.UUID) Borrower {
	return Borrower{Kind: BorrowerStudent, MemberIDs: []uuid.UUID{id}}
}

// Staff builds an individual staff borrower.
func Staff(id uuid.UUID) Borrower {
	return Borrower{Kind: BorrowerStaff, MemberIDs: []uuid.UUID{id}}
}

// StudentGroup builds a group borrower, dropping duplicate members.
func StudentGroup(ids ...uuid.UUID) Borrower {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	members := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return Borrower{Kind: BorrowerGroup, MemberIDs: members}
}

// Validate checks the borrower set is non-empty.
func (b Borrower) Validate() error {
	if len(b.MemberIDs) == 0 {
		return ErrEmptyGroup
	}
	if b.Kind != BorrowerGroup && len(b.MemberIDs) != 1 {
		return errors.New("individual borrower must have exactly one member")
	}
	return nil
}

// IsGroup reports whether this is a shared group loan.
func (b Borrower) IsGroup() bool { return b.Kind == BorrowerGroup }

// Primary is the accountable member: the sole borrower of an individual
// loan, or the first listed student of a group.
func (b Borrower) Primary() uuid.UUID {
	if len(b.MemberIDs) == 0 {
		return uuid.Nil
	}
	return b.MemberIDs[0]
}

// Loan is one circulation record. A group loan is the same record with a
// group borrower; closing it closes for every member at once.
type Loan struct {
	ID                uuid.UUID         `json:"id"`
	CopyID            uuid.UUID         `json:"copy_id"`
	TrackingCode      string            `json:"tracking_code"`
	Borrower          Borrower          `json:"borrower"`
	BorrowedAt        time.Time         `json:"borrowed_at"`
	DueAt             time.Time         `json:"due_at"`
	ReturnedAt        *time.Time        `json:"returned_at,omitempty"`
	Status            LoanStatus        `json:"status"`
	ConditionAtIssue  catalog.Condition `json:"condition_at_issue"`
	ConditionAtReturn catalog.Condition `json:"condition_at_return,omitempty"`
	FineAmount        float64           `json:"fine_amount"`
	FinePaid          bool              `json:"fine_paid"`
	Lost              bool              `json:"lost"`
	Overdue           bool              `json:"overdue"`
	Notes             string            `json:"notes,omitempty"`
	ReturnNotes       string            `json:"return_notes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Closure carries everything recorded when a loan closes.
type Closure struct {
	ReturnedAt time.Time
	Condition  catalog.Condition
	FineAmount float64
	Lost       bool
	Notes      string
}
