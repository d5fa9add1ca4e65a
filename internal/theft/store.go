// internal/theft/store.go
package theft

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists theft cases. Status is only written through resolve and
// setStatus, never overwritten wholesale after creation.
type Store interface {
	Insert(ctx context.Context, c *Case) error
	Get(ctx context.Context, id uuid.UUID) (*Case, error)
	List(ctx context.Context, status Status) ([]*Case, error) // empty status lists all

	// SetInvestigating moves reported -> investigating, appending notes.
	SetInvestigating(ctx context.Context, id uuid.UUID, notes string) error

	// Resolve moves a non-terminal case to resolved with a resolution
	// note. Fails with ErrCaseAlreadyResolved on terminal cases.
	Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) error
}

// MemoryStore keeps theft cases in process memory for the offline tier
// and the test suites.
type MemoryStore struct {
	mu    sync.Mutex
	cases map[uuid.UUID]*Case
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[uuid.UUID]*Case)}
}

func (s *MemoryStore) Insert(_ context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Status == "" {
		cp.Status = StatusReported
	}
	if cp.ReportedAt.IsZero() {
		cp.ReportedAt = time.Now().UTC()
	}
	s.cases[cp.ID] = &cp
	c.ID = cp.ID
	c.Status = cp.Status
	c.ReportedAt = cp.ReportedAt
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Case
	for _, c := range s.cases {
		if status == "" || c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetInvestigating(_ context.Context, id uuid.UUID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	if c.Status.Terminal() {
		return ErrCaseAlreadyResolved
	}
	c.Status = StatusInvestigating
	if notes != "" {
		if c.InvestigationNotes != "" {
			c.InvestigationNotes += "; "
		}
		c.InvestigationNotes += notes
	}
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, id uuid.UUID, resolution string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	if c.Status.Terminal() {
		return ErrCaseAlreadyResolved
	}
	c.Status = StatusResolved
	c.Resolution = resolution
	resolvedAt := at
	c.ResolvedAt = &resolvedAt
	return nil
}
