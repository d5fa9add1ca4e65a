// internal/theft/service.go
package theft

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the theft case tracker.
type Service interface {
	// Report records a new case produced by the circulation engine.
	Report(ctx context.Context, c *Case) error

	Get(ctx context.Context, id uuid.UUID) (*Case, error)
	List(ctx context.Context, status Status) ([]*Case, error)

	// Investigate moves a reported case into investigation.
	Investigate(ctx context.Context, id uuid.UUID, notes string) error

	// Collect marks the case's theft fine paid and resolves the case.
	Collect(ctx context.Context, id uuid.UUID, amount float64) error

	// Waive clears the fine with the administrator waiver reason and
	// resolves the case.
	Waive(ctx context.Context, id uuid.UUID) error
}
