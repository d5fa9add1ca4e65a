// internal/fines/handler.go
package fines

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{fineID}", h.handleGet)
	r.Post("/{fineID}/pay", h.handlePay)
	r.Post("/{fineID}/waive", h.handleWaive)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	borrower := r.URL.Query().Get("borrower_id")
	if borrower == "" {
		http.Error(w, "borrower_id is required", http.StatusBadRequest)
		return
	}
	borrowerID, err := uuid.Parse(borrower)
	if err != nil {
		http.Error(w, "invalid borrower_id", http.StatusBadRequest)
		return
	}

	list, err := h.store.ListByBorrower(r.Context(), borrowerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	fineID, err := uuid.Parse(chi.URLParam(r, "fineID"))
	if err != nil {
		http.Error(w, "invalid fine id", http.StatusBadRequest)
		return
	}
	fine, err := h.store.Get(r.Context(), fineID)
	if err != nil {
		http.Error(w, err.Error(), statusForFineErr(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fine)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	fineID, err := uuid.Parse(chi.URLParam(r, "fineID"))
	if err != nil {
		http.Error(w, "invalid fine id", http.StatusBadRequest)
		return
	}
	if err := h.store.MarkPaid(r.Context(), fineID); err != nil {
		http.Error(w, err.Error(), statusForFineErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWaive(w http.ResponseWriter, r *http.Request) {
	fineID, err := uuid.Parse(chi.URLParam(r, "fineID"))
	if err != nil {
		http.Error(w, "invalid fine id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusUnprocessableEntity)
		return
	}
	if err := h.store.Clear(r.Context(), fineID, req.Reason); err != nil {
		http.Error(w, err.Error(), statusForFineErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForFineErr(err error) int {
	switch {
	case errors.Is(err, ErrFineNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFineSettled):
		return http.StatusConflict
	case errors.Is(err, ErrNegativeAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
