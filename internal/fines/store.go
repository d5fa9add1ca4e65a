// internal/fines/store.go
package fines

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists fine records. Fines are never overwritten once created;
// they move through pay and clear actions only.
type Store interface {
	Create(ctx context.Context, fine *Fine) error
	Get(ctx context.Context, id uuid.UUID) (*Fine, error)
	ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Fine, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Fine, error)

	// MarkPaid moves unpaid -> paid; fails with ErrFineSettled otherwise.
	MarkPaid(ctx context.Context, id uuid.UUID) error

	// Clear moves unpaid -> cleared with a waiver reason; cleared is
	// terminal. Fails with ErrFineSettled when already paid or cleared.
	Clear(ctx context.Context, id uuid.UUID, reason string) error
}

// MemoryStore is the in-process Store used by the offline tier and tests.
type MemoryStore struct {
	mu    sync.Mutex
	fines map[uuid.UUID]*Fine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fines: make(map[uuid.UUID]*Fine)}
}

func (s *MemoryStore) Create(_ context.Context, fine *Fine) error {
	if fine.Amount < 0 {
		return ErrNegativeAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := *fine
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = StatusUnpaid
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.fines[f.ID] = &f
	fine.ID = f.ID
	fine.Status = f.Status
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fines[id]
	if !ok {
		return nil, ErrFineNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListByBorrower(_ context.Context, borrowerID uuid.UUID) ([]*Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Fine
	for _, f := range s.fines {
		if f.BorrowerID == borrowerID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByLoan(_ context.Context, loanID uuid.UUID) ([]*Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Fine
	for _, f := range s.fines {
		if f.LoanID == loanID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fines[id]
	if !ok {
		return ErrFineNotFound
	}
	if f.Status != StatusUnpaid {
		return ErrFineSettled
	}
	f.Status = StatusPaid
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fines[id]
	if !ok {
		return ErrFineNotFound
	}
	if f.Status != StatusUnpaid {
		return ErrFineSettled
	}
	f.Status = StatusCleared
	f.WaiverReason = reason
	f.UpdatedAt = time.Now().UTC()
	return nil
}
