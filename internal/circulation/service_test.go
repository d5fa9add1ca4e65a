// internal/circulation/service_test.go
package circulation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelftrack/internal/catalog"
	"shelftrack/internal/fines"
	"shelftrack/internal/ledger"
	"shelftrack/internal/theft"
)

// memoryRecorder collects audit events for assertions.
type memoryRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	loanID    uuid.UUID
	eventType string
}

func (r *memoryRecorder) Record(_ context.Context, loanID uuid.UUID, eventType string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{loanID: loanID, eventType: eventType})
	return nil
}

func (r *memoryRecorder) types(loanID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.loanID == loanID {
			out = append(out, e.eventType)
		}
	}
	return out
}

// stubDirectory marks listed IDs inactive; everyone else is active.
type stubDirectory struct {
	inactive map[uuid.UUID]bool
}

func (d *stubDirectory) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	return !d.inactive[id], nil
}

type fixture struct {
	engine    *service
	registry  *catalog.MemoryRegistry
	loans     ledger.Service
	fineStore *fines.MemoryStore
	theftSvc  theft.Service
	cases     *theft.MemoryStore
	recorder  *memoryRecorder
	directory *stubDirectory
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		registry:  catalog.NewMemoryRegistry(),
		fineStore: fines.NewMemoryStore(),
		cases:     theft.NewMemoryStore(),
		recorder:  &memoryRecorder{},
		directory: &stubDirectory{inactive: map[uuid.UUID]bool{}},
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.loans = ledger.NewService(ledger.NewMemoryStore(), log)
	f.theftSvc = theft.NewService(f.cases, f.fineStore, log)

	f.engine = NewService(
		f.registry,
		f.loans,
		f.fineStore,
		fines.DefaultSchedule(),
		f.theftSvc,
		f.recorder,
		f.directory,
		log,
	).(*service)
	f.engine.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) addCopy(t *testing.T, code string) {
	t.Helper()
	require.NoError(t, f.registry.AddCopy(context.Background(), &catalog.BookCopy{
		TrackingCode: code,
		Title:        "Sample Title",
		Author:       "Sample Author",
		CopyNumber:   1,
		Condition:    catalog.ConditionGood,
	}))
}

func (f *fixture) issue(t *testing.T, code string, borrower ledger.Borrower) *ledger.Loan {
	t.Helper()
	loan, err := f.engine.Issue(context.Background(), IssueRequest{
		TrackingCode:     code,
		Borrower:         borrower,
		DueAt:            f.now.Add(14 * 24 * time.Hour),
		ConditionAtIssue: catalog.ConditionGood,
	})
	require.NoError(t, err)
	return loan
}

func TestIssueLendsAvailableCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")

	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	assert.Equal(t, ledger.LoanActive, loan.Status)
	assert.Equal(t, f.now, loan.BorrowedAt)

	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyBorrowed, copy.Status)
	assert.Equal(t, loan.ID, copy.ActiveLoanID)

	assert.Equal(t, []string{EventLoanIssued}, f.recorder.types(loan.ID))
}

func TestIssueRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	due := f.now.Add(14 * 24 * time.Hour)
	student := ledger.Student(uuid.New())

	tests := []struct {
		name    string
		req     IssueRequest
		wantErr error
	}{
		{
			"malformed code",
			IssueRequest{TrackingCode: "bk1/1/2025", Borrower: student, DueAt: due, ConditionAtIssue: catalog.ConditionGood},
			catalog.ErrInvalidTrackingCode,
		},
		{
			"unknown copy",
			IssueRequest{TrackingCode: "BK9/999/25", Borrower: student, DueAt: due, ConditionAtIssue: catalog.ConditionGood},
			catalog.ErrCopyNotFound,
		},
		{
			"already on loan",
			IssueRequest{TrackingCode: "BK1/001/25", Borrower: student, DueAt: due, ConditionAtIssue: catalog.ConditionGood},
			ErrCopyUnavailable,
		},
		{
			"due date in the past",
			IssueRequest{TrackingCode: "BK1/001/25", Borrower: student, DueAt: f.now.Add(-time.Hour), ConditionAtIssue: catalog.ConditionGood},
			ErrDueDateNotFuture,
		},
		{
			"empty group",
			IssueRequest{TrackingCode: "BK1/001/25", Borrower: ledger.StudentGroup(), DueAt: due, ConditionAtIssue: catalog.ConditionGood},
			ledger.ErrEmptyGroup,
		},
		{
			"bad condition",
			IssueRequest{TrackingCode: "BK1/001/25", Borrower: student, DueAt: due, ConditionAtIssue: "pristine"},
			catalog.ErrInvalidCondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Issue(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIssueInactiveBorrower(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")

	suspended := uuid.New()
	f.directory.inactive[suspended] = true

	req := IssueRequest{
		TrackingCode:     "BK1/001/25",
		Borrower:         ledger.Student(suspended),
		DueAt:            f.now.Add(24 * time.Hour),
		ConditionAtIssue: catalog.ConditionGood,
	}
	_, err := f.engine.Issue(ctx, req)
	assert.ErrorIs(t, err, ErrBorrowerInactive)

	// The copy was not touched.
	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, copy.Status)

	// The operator can push it through.
	req.OverrideInactive = true
	loan, err := f.engine.Issue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanActive, loan.Status)
}

func TestReturnOnTimeCleanIsFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	f.now = f.now.Add(7 * 24 * time.Hour)
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionGood,
	})
	require.NoError(t, err)

	assert.Zero(t, result.FineAmount)
	assert.Nil(t, result.TheftCase)
	assert.Equal(t, ledger.LoanReturned, result.Loan.Status)

	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, copy.Status)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, loanFines)
}

func TestReturnOverdueInFairCondition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	// Five days past the two-week due date: 5*10 overdue + 50 fair.
	f.now = f.now.Add(19 * 24 * time.Hour)
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionFair,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.FineAmount)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 2)
	byType := map[fines.Type]float64{}
	for _, fn := range loanFines {
		byType[fn.Type] = fn.Amount
		assert.Equal(t, fines.StatusUnpaid, fn.Status)
	}
	assert.Equal(t, 50.0, byType[fines.TypeOverdue])
	assert.Equal(t, 50.0, byType[fines.TypeConditionFair])

	types := f.recorder.types(loan.ID)
	assert.Contains(t, types, EventLoanReturned)
	assert.Contains(t, types, EventFineAssessed)
}

func TestReturnFineOverrideReplacesTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	f.now = f.now.Add(19 * 24 * time.Hour)
	override := 25.0
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionFair,
		FineOverride:  &override,
	})
	require.NoError(t, err)
	assert.Equal(t, 25.0, result.FineAmount)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 1)
	assert.Equal(t, 25.0, loanFines[0].Amount)
	assert.Equal(t, "manual fine override", loanFines[0].Description)
}

func TestReturnFineOverrideToZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	f.now = f.now.Add(19 * 24 * time.Hour)
	zero := 0.0
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionDamaged,
		FineOverride:  &zero,
	})
	require.NoError(t, err)
	assert.Zero(t, result.FineAmount)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, loanFines)
}

func TestReturnNegativeOverrideRejected(t *testing.T) {
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	bad := -10.0
	_, err := f.engine.Return(context.Background(), ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionGood,
		FineOverride:  &bad,
	})
	assert.ErrorIs(t, err, ErrNegativeFineOverride)
}

func TestReturnLostBookReplacesOtherFines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	f.now = f.now.Add(30 * 24 * time.Hour)
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Lost:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, result.FineAmount)
	assert.True(t, result.Loan.Lost)

	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyLost, copy.Status)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 1)
	assert.Equal(t, fines.TypeLostBook, loanFines[0].Type)
	assert.Equal(t, 500.0, loanFines[0].Amount)
}

func TestReturnTwiceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	req := ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionGood,
	}
	_, err := f.engine.Return(ctx, req)
	require.NoError(t, err)

	_, err = f.engine.Return(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrLoanNotActive)
}

func TestReturnUnknownCodeRejectedCleanly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	// Well-formed but matching no active loan: rejected without state
	// changes, distinct from a malformed code.
	_, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "ZZ9/999/99",
		Condition:     catalog.ConditionGood,
	})
	assert.ErrorIs(t, err, ErrUnknownTrackingCode)

	_, err = f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "not-a-code",
		Condition:     catalog.ConditionGood,
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidTrackingCode)

	// The loan is still open.
	got, err := f.loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanActive, got.Status)
}

func TestReturnDetectsTheft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/002/25")
	f.addCopy(t, "BK1/003/25")

	accusedID := uuid.New()
	victimID := uuid.New()
	accusedLoan := f.issue(t, "BK1/002/25", ledger.Student(accusedID))
	victimLoan := f.issue(t, "BK1/003/25", ledger.Student(victimID))

	// The accused returns the victim's copy instead of their own.
	f.now = f.now.Add(3 * 24 * time.Hour)
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:           accusedLoan.ID,
		PresentedCode:    "BK1/003/25",
		Condition:        catalog.ConditionGood,
		AutoResolveTheft: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.TheftCase)
	assert.Equal(t, 800.0, result.FineAmount)

	tc := result.TheftCase
	assert.Equal(t, accusedID, tc.AccusedID)
	assert.Equal(t, victimID, tc.VictimID)
	assert.Equal(t, "BK1/002/25", tc.ExpectedTrackingCode)
	assert.Equal(t, "BK1/003/25", tc.ReturnedTrackingCode)
	assert.Equal(t, theft.StatusResolved, tc.Status)
	require.NotNil(t, tc.ResolvedAt)

	// Victim's loan closed clean, their copy back on the shelf.
	closedVictim, err := f.loans.Get(ctx, victimLoan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanReturned, closedVictim.Status)
	assert.Zero(t, closedVictim.FineAmount)

	victimCopy, err := f.registry.Lookup(ctx, "BK1/003/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, victimCopy.Status)

	// Accused's loan closed lost, their copy flagged lost.
	closedAccused, err := f.loans.Get(ctx, accusedLoan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanReturned, closedAccused.Status)
	assert.True(t, closedAccused.Lost)

	accusedCopy, err := f.registry.Lookup(ctx, "BK1/002/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyLost, accusedCopy.Status)

	// The theft fine targets the accused, unpaid, at the theft rate.
	fine, err := f.fineStore.Get(ctx, tc.FineID)
	require.NoError(t, err)
	assert.Equal(t, accusedID, fine.BorrowerID)
	assert.Equal(t, fines.TypeTheft, fine.Type)
	assert.Equal(t, 800.0, fine.Amount)
	assert.Equal(t, fines.StatusUnpaid, fine.Status)

	assert.Contains(t, f.recorder.types(accusedLoan.ID), EventTheftDetected)
}

func TestReturnTheftDeferredForReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/002/25")
	f.addCopy(t, "BK1/003/25")
	accusedLoan := f.issue(t, "BK1/002/25", ledger.Student(uuid.New()))
	f.issue(t, "BK1/003/25", ledger.Student(uuid.New()))

	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        accusedLoan.ID,
		PresentedCode: "BK1/003/25",
		Condition:     catalog.ConditionGood,
	})
	require.NoError(t, err)
	require.NotNil(t, result.TheftCase)
	assert.Equal(t, theft.StatusReported, result.TheftCase.Status)
	assert.Nil(t, result.TheftCase.ResolvedAt)
}

func TestGroupLoanClosesForEveryone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "SCI/010/25")

	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	loan := f.issue(t, "SCI/010/25", ledger.StudentGroup(members...))
	assert.True(t, loan.Borrower.IsGroup())

	f.now = f.now.Add(20 * 24 * time.Hour)
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "SCI/010/25",
		Condition:     catalog.ConditionGood,
	})
	require.NoError(t, err)
	// Six days late at the group rate: one fine against the first member.
	assert.Equal(t, 60.0, result.FineAmount)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 1)
	assert.Equal(t, members[0], loanFines[0].BorrowerID)

	// The one shared record is closed for every member.
	_, err = f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "SCI/010/25",
		Condition:     catalog.ConditionGood,
	})
	assert.ErrorIs(t, err, ledger.ErrLoanNotActive)
}

func TestBookFoundReinstatesCopyAndWaivesFine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	_, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Lost:          true,
	})
	require.NoError(t, err)

	f.now = f.now.Add(10 * 24 * time.Hour)
	recovered, err := f.engine.BookFound(ctx, loan.ID, catalog.ConditionFair)
	require.NoError(t, err)
	assert.False(t, recovered.Lost)

	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, copy.Status)
	assert.Equal(t, catalog.ConditionFair, copy.Condition)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 1)
	assert.Equal(t, fines.StatusCleared, loanFines[0].Status)
	assert.Equal(t, "book recovered", loanFines[0].WaiverReason)

	assert.Contains(t, f.recorder.types(loan.ID), EventCopyRecovered)

	// Only lost loans qualify.
	_, err = f.engine.BookFound(ctx, loan.ID, catalog.ConditionFair)
	assert.ErrorIs(t, err, ledger.ErrLoanNotLost)
}

func TestBookFoundRejectsActiveLoan(t *testing.T) {
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	_, err := f.engine.BookFound(context.Background(), loan.ID, catalog.ConditionGood)
	assert.ErrorIs(t, err, ledger.ErrLoanNotLost)
}

func TestConcurrentIssueSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Issue(ctx, IssueRequest{
				TrackingCode:     "BK1/001/25",
				Borrower:         ledger.Student(uuid.New()),
				DueAt:            f.now.Add(24 * time.Hour),
				ConditionAtIssue: catalog.ConditionGood,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrCopyUnavailable)
	}
	assert.Equal(t, 1, won)

	active, err := f.loans.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// rendezvousLoans holds the first two loan reads until both have arrived,
// so two returns of the same loan both see it active before either takes
// the copy lock.
type rendezvousLoans struct {
	ledger.Service
	mu    sync.Mutex
	reads int
	gate  chan struct{}
}

func (r *rendezvousLoans) Get(ctx context.Context, id uuid.UUID) (*ledger.Loan, error) {
	loan, err := r.Service.Get(ctx, id)
	r.mu.Lock()
	r.reads++
	n := r.reads
	r.mu.Unlock()
	switch n {
	case 1:
		<-r.gate
	case 2:
		close(r.gate)
	}
	return loan, err
}

func TestConcurrentLostReturnsKeepCopyConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	gated := &rendezvousLoans{Service: f.loans, gate: make(chan struct{})}
	engine := NewService(
		f.registry, gated, f.fineStore, fines.DefaultSchedule(),
		f.theftSvc, f.recorder, f.directory, slog.New(slog.NewTextHandler(io.Discard, nil)),
	).(*service)
	engine.clock = f.engine.clock

	req := ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Lost:          true,
	}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := engine.Return(ctx, req)
			errs <- err
		}()
	}

	var won, lost int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ledger.ErrLoanNotActive)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	// The losing return must leave no trace: the copy stays lost and no
	// active loan references it.
	copy, err := f.registry.Lookup(ctx, "BK1/001/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyLost, copy.Status)
	assert.Equal(t, uuid.Nil, copy.ActiveLoanID)

	active, err := f.loans.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, loanFines, 1)
	assert.Equal(t, fines.TypeLostBook, loanFines[0].Type)
}

// holdFirstFind pauses the first active-loan lookup after it has read, so
// the test can close that loan before the caller takes its locks.
type holdFirstFind struct {
	ledger.Service
	mu      sync.Mutex
	finds   int
	arrived chan struct{}
	hold    chan struct{}
}

func (h *holdFirstFind) FindActiveByTrackingCode(ctx context.Context, code string) (*ledger.Loan, error) {
	loan, err := h.Service.FindActiveByTrackingCode(ctx, code)
	h.mu.Lock()
	h.finds++
	n := h.finds
	h.mu.Unlock()
	if n == 1 {
		close(h.arrived)
		<-h.hold
	}
	return loan, err
}

func TestTheftReturnRevalidatesVictimLoan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/002/25")
	f.addCopy(t, "BK1/003/25")
	accusedLoan := f.issue(t, "BK1/002/25", ledger.Student(uuid.New()))
	victimLoan := f.issue(t, "BK1/003/25", ledger.Student(uuid.New()))

	gated := &holdFirstFind{
		Service: f.loans,
		arrived: make(chan struct{}),
		hold:    make(chan struct{}),
	}
	engine := NewService(
		f.registry, gated, f.fineStore, fines.DefaultSchedule(),
		f.theftSvc, f.recorder, f.directory, slog.New(slog.NewTextHandler(io.Discard, nil)),
	).(*service)
	engine.clock = f.engine.clock

	done := make(chan error, 1)
	go func() {
		_, err := engine.Return(ctx, ReturnRequest{
			LoanID:        accusedLoan.ID,
			PresentedCode: "BK1/003/25",
			Condition:     catalog.ConditionGood,
		})
		done <- err
	}()

	// While the suspicious return holds a stale view of the victim's
	// loan, the victim returns their own copy.
	<-gated.arrived
	_, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:        victimLoan.ID,
		PresentedCode: "BK1/003/25",
		Condition:     catalog.ConditionGood,
	})
	require.NoError(t, err)
	close(gated.hold)

	// The presented code no longer matches an active loan, so the
	// suspicious return is rejected instead of closing the stale loan.
	assert.ErrorIs(t, <-done, ErrUnknownTrackingCode)

	stillOpen, err := f.loans.Get(ctx, accusedLoan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanActive, stillOpen.Status)

	victimCopy, err := f.registry.Lookup(ctx, "BK1/003/25")
	require.NoError(t, err)
	assert.Equal(t, catalog.CopyAvailable, victimCopy.Status)
	assert.Equal(t, uuid.Nil, victimCopy.ActiveLoanID)

	cases, err := f.theftSvc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, cases)
}

// failingFineStore rejects every create so the return path's handling of a
// broken fine store is observable.
type failingFineStore struct {
	fines.Store
}

func (failingFineStore) Create(context.Context, *fines.Fine) error {
	return errFineStoreDown
}

var errFineStoreDown = fmt.Errorf("fine store unavailable")

func TestReturnSucceedsWhenFineStoreFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/001/25")
	loan := f.issue(t, "BK1/001/25", ledger.Student(uuid.New()))

	engine := NewService(
		f.registry, f.loans, failingFineStore{Store: f.fineStore}, fines.DefaultSchedule(),
		f.theftSvc, f.recorder, f.directory, slog.New(slog.NewTextHandler(io.Discard, nil)),
	).(*service)
	engine.clock = f.engine.clock

	f.now = f.now.Add(19 * 24 * time.Hour)
	result, err := engine.Return(ctx, ReturnRequest{
		LoanID:        loan.ID,
		PresentedCode: "BK1/001/25",
		Condition:     catalog.ConditionFair,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.FineAmount)

	// The closed loan carries the assessed amount even though no fine
	// rows could be written.
	closed, err := f.loans.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanReturned, closed.Status)
	assert.Equal(t, 100.0, closed.FineAmount)

	loanFines, err := f.fineStore.ListByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, loanFines)
}

func TestTheftReturnIgnoresOverrideAndLostFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addCopy(t, "BK1/002/25")
	f.addCopy(t, "BK1/003/25")
	accusedLoan := f.issue(t, "BK1/002/25", ledger.Student(uuid.New()))
	victimLoan := f.issue(t, "BK1/003/25", ledger.Student(uuid.New()))

	override := 5.0
	result, err := f.engine.Return(ctx, ReturnRequest{
		LoanID:           accusedLoan.ID,
		PresentedCode:    "BK1/003/25",
		Condition:        catalog.ConditionGood,
		Lost:             true,
		FineOverride:     &override,
		AutoResolveTheft: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.TheftCase)

	// Operator inputs for a normal close do not bend the theft outcome:
	// the fine is the scheduled theft rate and the victim closes clean.
	assert.Equal(t, 800.0, result.FineAmount)
	fine, err := f.fineStore.Get(ctx, result.TheftCase.FineID)
	require.NoError(t, err)
	assert.Equal(t, fines.TypeTheft, fine.Type)
	assert.Equal(t, 800.0, fine.Amount)

	closedVictim, err := f.loans.Get(ctx, victimLoan.ID)
	require.NoError(t, err)
	assert.Zero(t, closedVictim.FineAmount)
	assert.False(t, closedVictim.Lost)
}
