// internal/catalog/memory.go
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry keeps copies in process memory. It backs the offline
// local tier and the test suites; transitions hold the registry lock so
// the status check and the write are one atomic step.
type MemoryRegistry struct {
	mu     sync.Mutex
	copies map[string]*BookCopy
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{copies: make(map[string]*BookCopy)}
}

func (r *MemoryRegistry) AddCopy(_ context.Context, copy *BookCopy) error {
	if !ValidTrackingCode(copy.TrackingCode) {
		return ErrInvalidTrackingCode
	}
	if !copy.Condition.Valid() {
		return ErrInvalidCondition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.copies[copy.TrackingCode]; ok {
		return ErrCopyExists
	}

	c := *copy
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CopyAvailable
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.copies[c.TrackingCode] = &c
	copy.ID = c.ID
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, trackingCode string) (*BookCopy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.copies[trackingCode]
	if !ok {
		return nil, ErrCopyNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]*BookCopy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*BookCopy, 0, len(r.copies))
	for _, c := range r.copies {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRegistry) MarkBorrowed(_ context.Context, trackingCode string, loanID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.copies[trackingCode]
	if !ok {
		return ErrCopyNotFound
	}
	if c.Status != CopyAvailable {
		return ErrAlreadyBorrowed
	}
	c.Status = CopyBorrowed
	c.ActiveLoanID = loanID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) MarkAvailable(_ context.Context, trackingCode string, cond Condition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.copies[trackingCode]
	if !ok {
		return ErrCopyNotFound
	}
	if c.Status != CopyBorrowed {
		return ErrNotBorrowed
	}
	c.Status = CopyAvailable
	c.ActiveLoanID = uuid.Nil
	if cond.Valid() {
		c.Condition = cond
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) MarkLost(_ context.Context, trackingCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.copies[trackingCode]
	if !ok {
		return ErrCopyNotFound
	}
	if c.Status == CopyLost {
		return nil // already lost, nothing to do
	}
	c.Status = CopyLost
	c.ActiveLoanID = uuid.Nil
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) MarkRecovered(_ context.Context, trackingCode string, cond Condition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.copies[trackingCode]
	if !ok {
		return ErrCopyNotFound
	}
	if c.Status != CopyLost {
		return ErrNotLost
	}
	c.Status = CopyAvailable
	if cond.Valid() {
		c.Condition = cond
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}
