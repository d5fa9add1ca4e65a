// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shelftrack/internal/catalog"
	"shelftrack/internal/fines"
	"shelftrack/internal/ledger"
	"shelftrack/internal/theft"
)

// service orchestrates the copy registry, the loan ledger, the fine store
// and the theft tracker. Every multi-store write compensates on failure so
// a rejected operation leaves no partial state behind.
type service struct {
	registry  catalog.Registry
	loans     ledger.Service
	fineStore fines.Store
	schedule  fines.Schedule
	thefts    theft.Service
	events    EventRecorder
	directory BorrowerDirectory
	log       *slog.Logger
	clock     func() time.Time
	locks     *copyLocks
}

// NewService creates a new circulation engine instance. The event recorder
// and borrower directory are optional; a nil recorder skips audit events
// and a nil directory skips the activity check.
func NewService(
	registry catalog.Registry,
	loans ledger.Service,
	fineStore fines.Store,
	schedule fines.Schedule,
	thefts theft.Service,
	events EventRecorder,
	directory BorrowerDirectory,
	log *slog.Logger,
) Service {
	return &service{
		registry:  registry,
		loans:     loans,
		fineStore: fineStore,
		schedule:  schedule,
		thefts:    thefts,
		events:    events,
		directory: directory,
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
		locks:     newCopyLocks(),
	}
}

// Issue validates the request, reserves the copy via the registry's
// compare-and-swap and opens the ledger record. A failed open releases
// the copy again.
func (s *service) Issue(ctx context.Context, req IssueRequest) (*ledger.Loan, error) {
	if !catalog.ValidTrackingCode(req.TrackingCode) {
		return nil, fmt.Errorf("%w: %q", catalog.ErrInvalidTrackingCode, req.TrackingCode)
	}
	if !req.ConditionAtIssue.Valid() {
		return nil, fmt.Errorf("%w: %q", catalog.ErrInvalidCondition, req.ConditionAtIssue)
	}
	if err := req.Borrower.Validate(); err != nil {
		return nil, err
	}
	now := s.clock()
	if !req.DueAt.After(now) {
		return nil, ErrDueDateNotFuture
	}
	if err := s.checkBorrowers(ctx, req); err != nil {
		return nil, err
	}

	release := s.locks.acquire(req.TrackingCode)
	defer release()

	copyr, err := s.registry.Lookup(ctx, req.TrackingCode)
	if err != nil {
		return nil, err
	}

	loanID := uuid.New()
	if err := s.registry.MarkBorrowed(ctx, req.TrackingCode, loanID); err != nil {
		if errors.Is(err, catalog.ErrAlreadyBorrowed) {
			return nil, fmt.Errorf("%w: %s is %s", ErrCopyUnavailable, req.TrackingCode, copyr.Status)
		}
		return nil, err
	}

	loan, err := s.loans.Open(ctx, ledger.OpenLoanRequest{
		ID:               loanID,
		CopyID:           copyr.ID,
		TrackingCode:     req.TrackingCode,
		Borrower:         req.Borrower,
		BorrowedAt:       now,
		DueAt:            req.DueAt,
		ConditionAtIssue: req.ConditionAtIssue,
		Notes:            req.Notes,
	})
	if err != nil {
		if cerr := s.registry.MarkAvailable(ctx, req.TrackingCode, copyr.Condition); cerr != nil {
			s.log.Error("compensation failed: copy left borrowed without a loan",
				"tracking_code", req.TrackingCode, "error", cerr)
		}
		return nil, err
	}

	s.recordEvent(ctx, loan.ID, EventLoanIssued, LoanIssuedEvent{
		LoanID:       loan.ID,
		TrackingCode: loan.TrackingCode,
		BorrowerKind: string(loan.Borrower.Kind),
		Members:      len(loan.Borrower.MemberIDs),
		DueAt:        loan.DueAt,
	})
	return loan, nil
}

// Return triages the presented code against the loan being closed. The
// matching code closes normally; a code belonging to another borrower's
// active loan opens the theft path; anything else is rejected before any
// state changes.
func (s *service) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	if !catalog.ValidTrackingCode(req.PresentedCode) {
		return nil, fmt.Errorf("%w: %q", catalog.ErrInvalidTrackingCode, req.PresentedCode)
	}
	if !req.Lost && !req.Condition.Valid() {
		return nil, fmt.Errorf("%w: %q", catalog.ErrInvalidCondition, req.Condition)
	}
	if req.FineOverride != nil && *req.FineOverride < 0 {
		return nil, ErrNegativeFineOverride
	}

	loan, err := s.loans.Get(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.LoanActive {
		return nil, ledger.ErrLoanNotActive
	}

	if req.PresentedCode == loan.TrackingCode {
		return s.closeNormal(ctx, loan, req)
	}

	victim, err := s.loans.FindActiveByTrackingCode(ctx, req.PresentedCode)
	if err != nil {
		if errors.Is(err, ledger.ErrLoanNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTrackingCode, req.PresentedCode)
		}
		return nil, err
	}
	return s.detectTheft(ctx, loan, victim, req)
}

// closeNormal returns the copy to the shelf (or marks it lost), closes the
// loan and creates the fine records the assessment produced.
func (s *service) closeNormal(ctx context.Context, loan *ledger.Loan, req ReturnRequest) (*ReturnResult, error) {
	release := s.locks.acquire(loan.TrackingCode)
	defer release()

	// Re-read under the copy lock: a concurrent return may have closed
	// this loan after the triage check.
	loan, err := s.loans.Get(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.LoanActive {
		return nil, ledger.ErrLoanNotActive
	}

	now := s.clock()
	assessment := s.schedule.Assess(req.Condition, loan.DueAt, now, req.Lost)
	total := assessment.Total
	if req.FineOverride != nil {
		total = *req.FineOverride
	}

	if req.Lost {
		if err := s.registry.MarkLost(ctx, loan.TrackingCode); err != nil {
			return nil, err
		}
	} else {
		if err := s.registry.MarkAvailable(ctx, loan.TrackingCode, req.Condition); err != nil {
			if errors.Is(err, catalog.ErrNotBorrowed) {
				return nil, ledger.ErrLoanNotActive
			}
			return nil, err
		}
	}

	closure := ledger.Closure{
		ReturnedAt: now,
		Condition:  req.Condition,
		FineAmount: total,
		Lost:       req.Lost,
		Notes:      req.Notes,
	}
	if err := s.loans.Close(ctx, loan.ID, closure); err != nil {
		s.compensateClose(ctx, loan, req.Lost)
		if errors.Is(err, ledger.ErrLoanNotActive) {
			return nil, err
		}
		return nil, fmt.Errorf("close loan %s: %w", loan.ID, err)
	}

	// The closed loan's FineAmount is authoritative; the close cannot be
	// replayed, so missing fine rows are logged rather than failing the
	// already-committed return.
	if err := s.createReturnFines(ctx, loan, assessment, req, now); err != nil {
		s.log.Error("fine records not created",
			"loan_id", loan.ID, "fine_amount", total, "error", err)
	}

	if req.Lost {
		s.recordEvent(ctx, loan.ID, EventCopyLost, CopyLostEvent{
			LoanID:       loan.ID,
			TrackingCode: loan.TrackingCode,
		})
	}
	s.recordEvent(ctx, loan.ID, EventLoanReturned, LoanReturnedEvent{
		LoanID:      loan.ID,
		Condition:   string(req.Condition),
		FineAmount:  total,
		OverdueDays: assessment.OverdueDays,
		Lost:        req.Lost,
	})
	if total > 0 {
		s.recordEvent(ctx, loan.ID, EventFineAssessed, assessment)
	}

	closed, err := s.loans.Get(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	return &ReturnResult{Loan: closed, FineAmount: total}, nil
}

// compensateClose undoes the registry transition after a failed ledger
// close, so the copy state matches the still-active loan.
func (s *service) compensateClose(ctx context.Context, loan *ledger.Loan, lost bool) {
	var err error
	if lost {
		if err = s.registry.MarkRecovered(ctx, loan.TrackingCode, loan.ConditionAtIssue); err == nil {
			err = s.registry.MarkBorrowed(ctx, loan.TrackingCode, loan.ID)
		}
	} else {
		err = s.registry.MarkBorrowed(ctx, loan.TrackingCode, loan.ID)
	}
	if err != nil {
		s.log.Error("compensation failed: copy state diverged from loan",
			"tracking_code", loan.TrackingCode, "loan_id", loan.ID, "error", err)
	}
}

// createReturnFines writes one fine record per assessed component, or a
// single record when the operator overrode the total.
func (s *service) createReturnFines(ctx context.Context, loan *ledger.Loan, assessment fines.Assessment, req ReturnRequest, now time.Time) error {
	borrowerID := loan.Borrower.Primary()

	if req.FineOverride != nil {
		if *req.FineOverride == 0 {
			return nil
		}
		fine := &fines.Fine{
			ID:          uuid.New(),
			BorrowerID:  borrowerID,
			LoanID:      loan.ID,
			Type:        overrideType(assessment, req.Lost),
			Amount:      *req.FineOverride,
			Status:      fines.StatusUnpaid,
			Description: "manual fine override",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.fineStore.Create(ctx, fine)
	}

	for _, comp := range assessment.Components {
		if comp.Amount <= 0 {
			continue
		}
		fine := &fines.Fine{
			ID:          uuid.New(),
			BorrowerID:  borrowerID,
			LoanID:      loan.ID,
			Type:        comp.Type,
			Amount:      comp.Amount,
			Status:      fines.StatusUnpaid,
			Description: componentDescription(comp, assessment),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.fineStore.Create(ctx, fine); err != nil {
			return fmt.Errorf("create %s fine for loan %s: %w", comp.Type, loan.ID, err)
		}
	}
	return nil
}

// overrideType picks the category a manual override is filed under: the
// most severe component the assessment would have produced.
func overrideType(assessment fines.Assessment, lost bool) fines.Type {
	if lost {
		return fines.TypeLostBook
	}
	for _, comp := range assessment.Components {
		if comp.Type != fines.TypeOverdue {
			return comp.Type
		}
	}
	return fines.TypeOverdue
}

func componentDescription(comp fines.Component, assessment fines.Assessment) string {
	if comp.Type == fines.TypeOverdue {
		return fmt.Sprintf("%d day(s) overdue", assessment.OverdueDays)
	}
	return fmt.Sprintf("returned in %s condition", comp.Type)
}

// detectTheft handles a presented code that belongs to someone else's
// active loan: the victim's loan closes clean, the accused's own copy is
// declared lost, and a theft fine plus a tracked case are opened against
// the accused.
func (s *service) detectTheft(ctx context.Context, accused, victim *ledger.Loan, req ReturnRequest) (*ReturnResult, error) {
	if req.FineOverride != nil {
		s.log.Warn("fine override ignored on theft detection",
			"loan_id", accused.ID, "override", *req.FineOverride)
	}
	if req.Lost {
		s.log.Warn("lost flag ignored on theft detection", "loan_id", accused.ID)
	}

	release := s.locks.acquire(accused.TrackingCode, victim.TrackingCode)
	defer release()

	// Re-read both sides under the locks: either loan may have closed,
	// and the presented copy may have changed hands, after triage.
	accused, err := s.loans.Get(ctx, accused.ID)
	if err != nil {
		return nil, err
	}
	if accused.Status != ledger.LoanActive {
		return nil, ledger.ErrLoanNotActive
	}
	victim, err = s.loans.FindActiveByTrackingCode(ctx, req.PresentedCode)
	if err != nil {
		if errors.Is(err, ledger.ErrLoanNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTrackingCode, req.PresentedCode)
		}
		return nil, err
	}

	now := s.clock()

	// Victim side: their copy came back, through the wrong hands.
	if err := s.registry.MarkAvailable(ctx, victim.TrackingCode, req.Condition); err != nil {
		if errors.Is(err, catalog.ErrNotBorrowed) {
			return nil, ledger.ErrLoanNotActive
		}
		return nil, err
	}
	victimNote := fmt.Sprintf("copy recovered at return desk from loan %s", accused.ID)
	if err := s.loans.Close(ctx, victim.ID, ledger.Closure{
		ReturnedAt: now,
		Condition:  req.Condition,
		Notes:      victimNote,
	}); err != nil {
		if cerr := s.registry.MarkBorrowed(ctx, victim.TrackingCode, victim.ID); cerr != nil {
			s.log.Error("compensation failed: victim copy state diverged",
				"tracking_code", victim.TrackingCode, "error", cerr)
		}
		if errors.Is(err, ledger.ErrLoanNotActive) {
			return nil, err
		}
		return nil, fmt.Errorf("close victim loan %s: %w", victim.ID, err)
	}

	// Accused side: the copy they were issued is gone.
	if err := s.registry.MarkLost(ctx, accused.TrackingCode); err != nil {
		s.log.Error("marking accused copy lost failed",
			"tracking_code", accused.TrackingCode, "error", err)
		return nil, err
	}
	accusedNote := fmt.Sprintf("presented %s belonging to loan %s", req.PresentedCode, victim.ID)
	if req.Notes != "" {
		accusedNote = accusedNote + "; " + req.Notes
	}
	if err := s.loans.Close(ctx, accused.ID, ledger.Closure{
		ReturnedAt: now,
		Lost:       true,
		Notes:      accusedNote,
	}); err != nil {
		if errors.Is(err, ledger.ErrLoanNotActive) {
			return nil, err
		}
		return nil, fmt.Errorf("close accused loan %s: %w", accused.ID, err)
	}

	fine := &fines.Fine{
		ID:          uuid.New(),
		BorrowerID:  accused.Borrower.Primary(),
		LoanID:      accused.ID,
		Type:        fines.TypeTheft,
		Amount:      s.schedule.Rate(fines.TypeTheft),
		Status:      fines.StatusUnpaid,
		Description: fmt.Sprintf("returned %s instead of %s", req.PresentedCode, accused.TrackingCode),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.fineStore.Create(ctx, fine); err != nil {
		return nil, fmt.Errorf("create theft fine for loan %s: %w", accused.ID, err)
	}

	tc := &theft.Case{
		ID:                   uuid.New(),
		AccusedID:            accused.Borrower.Primary(),
		VictimID:             victim.Borrower.Primary(),
		AccusedLoanID:        accused.ID,
		VictimLoanID:         victim.ID,
		ExpectedTrackingCode: accused.TrackingCode,
		ReturnedTrackingCode: req.PresentedCode,
		FineID:               fine.ID,
		Status:               theft.StatusReported,
		ReportedAt:           now,
	}
	if req.AutoResolveTheft {
		tc.Status = theft.StatusResolved
		tc.Resolution = "auto-processed at return desk"
		tc.ResolvedAt = &now
	}
	if err := s.thefts.Report(ctx, tc); err != nil {
		return nil, fmt.Errorf("record theft case for loan %s: %w", accused.ID, err)
	}

	s.log.Warn("theft detected",
		"case_id", tc.ID,
		"accused_loan", accused.ID,
		"victim_loan", victim.ID,
		"expected_code", accused.TrackingCode,
		"returned_code", req.PresentedCode)

	s.recordEvent(ctx, accused.ID, EventTheftDetected, TheftDetectedEvent{
		CaseID:       tc.ID,
		AccusedID:    tc.AccusedID,
		VictimLoanID: victim.ID,
		ExpectedCode: accused.TrackingCode,
		ReturnedCode: req.PresentedCode,
	})
	s.recordEvent(ctx, accused.ID, EventCopyLost, CopyLostEvent{
		LoanID:       accused.ID,
		TrackingCode: accused.TrackingCode,
	})
	s.recordEvent(ctx, victim.ID, EventLoanReturned, LoanReturnedEvent{
		LoanID:    victim.ID,
		Condition: string(req.Condition),
	})

	closed, err := s.loans.Get(ctx, accused.ID)
	if err != nil {
		return nil, err
	}
	return &ReturnResult{Loan: closed, FineAmount: fine.Amount, TheftCase: tc}, nil
}

// BookFound reinstates a copy whose loan was closed as lost: the registry
// entry returns to the shelf and any unpaid lost-book fine is waived.
func (s *service) BookFound(ctx context.Context, loanID uuid.UUID, cond catalog.Condition) (*ledger.Loan, error) {
	if !cond.Valid() {
		return nil, fmt.Errorf("%w: %q", catalog.ErrInvalidCondition, cond)
	}
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != ledger.LoanReturned || !loan.Lost {
		return nil, ledger.ErrLoanNotLost
	}

	release := s.locks.acquire(loan.TrackingCode)
	defer release()

	if err := s.registry.MarkRecovered(ctx, loan.TrackingCode, cond); err != nil {
		return nil, err
	}
	note := fmt.Sprintf("book found on %s", s.clock().Format("2006-01-02"))
	if err := s.loans.MarkRecovered(ctx, loan.ID, cond, note); err != nil {
		if cerr := s.registry.MarkLost(ctx, loan.TrackingCode); cerr != nil {
			s.log.Error("compensation failed: recovered copy out of sync with lost loan",
				"tracking_code", loan.TrackingCode, "error", cerr)
		}
		return nil, err
	}

	loanFines, err := s.fineStore.ListByLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range loanFines {
		if f.Type != fines.TypeLostBook || f.Status != fines.StatusUnpaid {
			continue
		}
		if err := s.fineStore.Clear(ctx, f.ID, "book recovered"); err != nil && !errors.Is(err, fines.ErrFineSettled) {
			return nil, fmt.Errorf("clear lost-book fine %s: %w", f.ID, err)
		}
	}

	s.recordEvent(ctx, loan.ID, EventCopyRecovered, CopyRecoveredEvent{
		LoanID:       loan.ID,
		TrackingCode: loan.TrackingCode,
		Condition:    string(cond),
	})
	return s.loans.Get(ctx, loan.ID)
}

// checkBorrowers asks the directory about every member on the request.
// Inactive members block the issue unless the operator overrides, in
// which case the override is logged.
func (s *service) checkBorrowers(ctx context.Context, req IssueRequest) error {
	if s.directory == nil {
		return nil
	}
	for _, id := range req.Borrower.MemberIDs {
		active, err := s.directory.IsActive(ctx, id)
		if err != nil {
			return fmt.Errorf("borrower lookup %s: %w", id, err)
		}
		if active {
			continue
		}
		if !req.OverrideInactive {
			return fmt.Errorf("%w: %s", ErrBorrowerInactive, id)
		}
		s.log.Warn("issuing to inactive borrower on operator override",
			"borrower_id", id, "tracking_code", req.TrackingCode)
	}
	return nil
}

func (s *service) recordEvent(ctx context.Context, loanID uuid.UUID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, loanID, eventType, payload); err != nil {
		s.log.Error("audit event not recorded",
			"loan_id", loanID, "event_type", eventType, "error", err)
	}
}
