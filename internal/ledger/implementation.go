// internal/ledger/implementation.go
package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
)

// service implements the Service interface on top of an abstract Store.
type service struct {
	store Store
	log   *slog.Logger
}

// NewService creates a new loan ledger instance.
func NewService(store Store, log *slog.Logger) Service {
	return &service{store: store, log: log}
}

// Open validates the request and inserts a new active loan.
func (s *service) Open(ctx context.Context, req OpenLoanRequest) (*Loan, error) {
	if err := req.Borrower.Validate(); err != nil {
		return nil, err
	}
	if !req.DueAt.After(req.BorrowedAt) {
		return nil, ErrInvalidDueDate
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	loan := &Loan{
		ID:               id,
		CopyID:           req.CopyID,
		TrackingCode:     req.TrackingCode,
		Borrower:         req.Borrower,
		BorrowedAt:       req.BorrowedAt,
		DueAt:            req.DueAt,
		Status:           LoanActive,
		ConditionAtIssue: req.ConditionAtIssue,
		Notes:            req.Notes,
	}
	if err := s.store.Insert(ctx, loan); err != nil {
		return nil, err
	}

	s.log.Info("loan opened",
		"loan_id", loan.ID,
		"tracking_code", loan.TrackingCode,
		"borrower_kind", loan.Borrower.Kind,
		"members", len(loan.Borrower.MemberIDs),
		"due_at", loan.DueAt)
	return loan, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return s.store.Get(ctx, id)
}

func (s *service) FindActiveByTrackingCode(ctx context.Context, code string) (*Loan, error) {
	return s.store.FindActiveByTrackingCode(ctx, code)
}

func (s *service) ListActive(ctx context.Context) ([]*Loan, error) {
	return s.store.ListActive(ctx)
}

func (s *service) Close(ctx context.Context, id uuid.UUID, closure Closure) error {
	if err := s.store.Close(ctx, id, closure); err != nil {
		return err
	}
	s.log.Info("loan closed",
		"loan_id", id,
		"fine_amount", closure.FineAmount,
		"lost", closure.Lost,
		"condition", closure.Condition)
	return nil
}

func (s *service) SetFinePaid(ctx context.Context, id uuid.UUID, paid bool) error {
	return s.store.SetFinePaid(ctx, id, paid)
}

func (s *service) MarkOverdue(ctx context.Context, id uuid.UUID) error {
	return s.store.MarkOverdue(ctx, id)
}

func (s *service) MarkRecovered(ctx context.Context, id uuid.UUID, cond catalog.Condition, note string) error {
	return s.store.MarkRecovered(ctx, id, cond, note)
}
