// internal/circulation/handler.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shelftrack/internal/catalog"
	"shelftrack/internal/ledger"
	"shelftrack/pkg/eventlog"
)

// EventHistory reads back the audit trail for one loan.
type EventHistory interface {
	History(ctx context.Context, loanID uuid.UUID) ([]eventlog.Entry, error)
}

// Handler exposes the circulation engine over HTTP. Loan reads go through
// the ledger directly; every write goes through the engine. The history
// reader is optional; without it the events route is not registered.
type Handler struct {
	engine Service
	loans  ledger.Service
	events EventHistory
}

func NewHandler(engine Service, loans ledger.Service, events EventHistory) *Handler {
	return &Handler{engine: engine, loans: loans, events: events}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleIssue)
	r.Get("/", h.handleListActive)
	r.Get("/{loanID}", h.handleGetLoan)
	r.Post("/{loanID}/return", h.handleReturn)
	r.Post("/{loanID}/found", h.handleBookFound)
	if h.events != nil {
		r.Get("/{loanID}/events", h.handleEvents)
	}
	return r
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	entries, err := h.events.History(r.Context(), loanID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

type issueRequest struct {
	TrackingCode     string      `json:"tracking_code"`
	BorrowerID       uuid.UUID   `json:"borrower_id,omitempty"`
	BorrowerKind     string      `json:"borrower_kind,omitempty"`
	BorrowerIDs      []uuid.UUID `json:"borrower_ids,omitempty"`
	DueAt            time.Time   `json:"due_at"`
	ConditionAtIssue string      `json:"condition_at_issue"`
	Notes            string      `json:"notes,omitempty"`
	OverrideInactive bool        `json:"override_inactive,omitempty"`
}

// borrower builds the ledger borrower from the wire shape: a list of IDs
// means a student group, otherwise a single student or staff member.
func (req issueRequest) borrower() ledger.Borrower {
	if len(req.BorrowerIDs) > 0 {
		return ledger.StudentGroup(req.BorrowerIDs...)
	}
	if req.BorrowerKind == string(ledger.BorrowerStaff) {
		return ledger.Staff(req.BorrowerID)
	}
	return ledger.Student(req.BorrowerID)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := h.engine.Issue(r.Context(), IssueRequest{
		TrackingCode:     req.TrackingCode,
		Borrower:         req.borrower(),
		DueAt:            req.DueAt,
		ConditionAtIssue: catalog.Condition(req.ConditionAtIssue),
		Notes:            req.Notes,
		OverrideInactive: req.OverrideInactive,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForCirculationErr(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(loan)
}

type returnRequest struct {
	PresentedCode string   `json:"presented_code"`
	Condition     string   `json:"condition"`
	Lost          bool     `json:"lost,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	FineOverride  *float64 `json:"fine_override,omitempty"`

	// DeferReview keeps a detected theft case open for investigation
	// instead of resolving it on the spot.
	DeferReview bool `json:"defer_review,omitempty"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.engine.Return(r.Context(), ReturnRequest{
		LoanID:           loanID,
		PresentedCode:    req.PresentedCode,
		Condition:        catalog.Condition(req.Condition),
		Lost:             req.Lost,
		Notes:            req.Notes,
		FineOverride:     req.FineOverride,
		AutoResolveTheft: !req.DeferReview,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForCirculationErr(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleBookFound(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	var req struct {
		Condition string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := h.engine.BookFound(r.Context(), loanID, catalog.Condition(req.Condition))
	if err != nil {
		http.Error(w, err.Error(), statusForCirculationErr(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	loan, err := h.loans.Get(r.Context(), loanID)
	if err != nil {
		http.Error(w, err.Error(), statusForCirculationErr(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.ListActive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loans)
}

func statusForCirculationErr(err error) int {
	switch {
	case errors.Is(err, catalog.ErrCopyNotFound),
		errors.Is(err, ledger.ErrLoanNotFound),
		errors.Is(err, ErrUnknownTrackingCode):
		return http.StatusNotFound
	case errors.Is(err, ErrCopyUnavailable),
		errors.Is(err, ledger.ErrLoanNotActive),
		errors.Is(err, ledger.ErrLoanNotLost),
		errors.Is(err, catalog.ErrNotLost):
		return http.StatusConflict
	case errors.Is(err, ErrBorrowerInactive):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrInvalidTrackingCode),
		errors.Is(err, catalog.ErrInvalidCondition),
		errors.Is(err, ErrDueDateNotFuture),
		errors.Is(err, ErrNegativeFineOverride),
		errors.Is(err, ledger.ErrEmptyGroup),
		errors.Is(err, ledger.ErrInvalidDueDate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
