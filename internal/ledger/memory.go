// internal/ledger/memory.go
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

// MemoryStore holds loans in process memory. It is the local tier of the
// offline cache and the store the engine tests run against.
type MemoryStore struct {
	mu    sync.Mutex
	loans map[uuid.UUID]*Loan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loans: make(map[uuid.UUID]*Loan)}
}

func (s *MemoryStore) Insert(_ context.Context, loan *Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := *loan
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = LoanActive
	}
	l.Borrower.MemberIDs = append([]uuid.UUID(nil), loan.Borrower.MemberIDs...)
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	s.loans[l.ID] = &l
	loan.ID = l.ID
	loan.Status = l.Status
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return copyLoan(l), nil
}

func (s *MemoryStore) FindActiveByTrackingCode(_ context.Context, code string) (*Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.loans {
		if l.Status == LoanActive && l.TrackingCode == code {
			return copyLoan(l), nil
		}
	}
	return nil, ErrLoanNotFound
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Loan
	for _, l := range s.loans {
		if l.Status == LoanActive {
			out = append(out, copyLoan(l))
		}
	}
	return out, nil
}

func (s *MemoryStore) Close(_ context.Context, id uuid.UUID, closure Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if l.Status != LoanActive {
		return ErrLoanNotActive
	}
	returnedAt := closure.ReturnedAt
	l.Status = LoanReturned
	l.ReturnedAt = &returnedAt
	l.ConditionAtReturn = closure.Condition
	l.FineAmount = closure.FineAmount
	l.Lost = closure.Lost
	l.ReturnNotes = closure.Notes
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetFinePaid(_ context.Context, id uuid.UUID, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	l.FinePaid = paid
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkOverdue(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if l.Status != LoanActive {
		return ErrLoanNotActive
	}
	l.Overdue = true
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkRecovered(_ context.Context, id uuid.UUID, cond catalog.Condition, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return ErrLoanNotFound
	}
	if l.Status != LoanReturned || !l.Lost {
		return ErrLoanNotLost
	}
	l.Lost = false
	l.ConditionAtReturn = cond
	if note != "" {
		if l.ReturnNotes != "" {
			l.ReturnNotes += "; "
		}
		l.ReturnNotes += note
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func copyLoan(l *Loan) *Loan {
	cp := *l
	cp.Borrower.MemberIDs = append([]uuid.UUID(nil), l.Borrower.MemberIDs...)
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		cp.ReturnedAt = &t
	}
	return &cp
}
