// internal/theft/implementation.go
package theft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/fines"
)

const waiverReason = "waived by administrator"

// service implements the Service interface.
type service struct {
	cases Store
	fines fines.Store
	log   *slog.Logger
	clock func() time.Time
}

// NewService creates a new theft case tracker instance.
func NewService(cases Store, fineStore fines.Store, log *slog.Logger) Service {
	return &service{
		cases: cases,
		fines: fineStore,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Report(ctx context.Context, c *Case) error {
	if err := s.cases.Insert(ctx, c); err != nil {
		return fmt.Errorf("report theft case: %w", err)
	}
	s.log.Info("theft case recorded",
		"case_id", c.ID,
		"accused_id", c.AccusedID,
		"victim_id", c.VictimID,
		"expected_code", c.ExpectedTrackingCode,
		"returned_code", c.ReturnedTrackingCode,
		"status", c.Status)
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.Get(ctx, id)
}

func (s *service) List(ctx context.Context, status Status) ([]*Case, error) {
	return s.cases.List(ctx, status)
}

func (s *service) Investigate(ctx context.Context, id uuid.UUID, notes string) error {
	return s.cases.SetInvestigating(ctx, id, notes)
}

func (s *service) Collect(ctx context.Context, id uuid.UUID, amount float64) error {
	c, err := s.cases.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrCaseAlreadyResolved
	}

	if err := s.fines.MarkPaid(ctx, c.FineID); err != nil {
		// Fine already settled elsewhere still closes the case; anything
		// else aborts before the case is touched.
		if !errors.Is(err, fines.ErrFineSettled) {
			return fmt.Errorf("collect theft fine: %w", err)
		}
	}

	resolution := fmt.Sprintf("fine collected: %.2f", amount)
	if err := s.cases.Resolve(ctx, id, resolution, s.clock()); err != nil {
		return err
	}
	s.log.Info("theft fine collected", "case_id", id, "amount", amount)
	return nil
}

func (s *service) Waive(ctx context.Context, id uuid.UUID) error {
	c, err := s.cases.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrCaseAlreadyResolved
	}

	if err := s.fines.Clear(ctx, c.FineID, waiverReason); err != nil {
		if !errors.Is(err, fines.ErrFineSettled) {
			return fmt.Errorf("waive theft fine: %w", err)
		}
	}

	if err := s.cases.Resolve(ctx, id, waiverReason, s.clock()); err != nil {
		return err
	}
	s.log.Info("theft fine waived", "case_id", id)
	return nil
}
