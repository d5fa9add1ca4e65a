// internal/ledger/sweeper.go
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper flags active loans past their due date once a day. Overdue is a
// derived marker; fines are still computed from dates when the loan
// eventually closes.
type Sweeper struct {
	store Store
	log   *slog.Logger
	cron  *cron.Cron
	clock func() time.Time
}

func NewSweeper(store Store, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store: store,
		log:   log,
		cron:  cron.New(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep every day at midnight.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("0 0 * * *", func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.log.Error("overdue sweep failed", "err", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep marks every active loan past due that is not flagged yet.
func (s *Sweeper) Sweep(ctx context.Context) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	now := s.clock()
	flagged := 0
	for _, loan := range active {
		if loan.Overdue || !now.After(loan.DueAt) {
			continue
		}
		if err := s.store.MarkOverdue(ctx, loan.ID); err != nil {
			s.log.Warn("could not flag overdue loan", "loan_id", loan.ID, "err", err)
			continue
		}
		flagged++
	}
	if flagged > 0 {
		s.log.Info("overdue sweep complete", "flagged", flagged, "active", len(active))
	}
	return nil
}
