// internal/theft/handler.go
package theft

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{caseID}", h.handleGet)
	r.Post("/{caseID}/investigate", h.handleInvestigate)
	r.Post("/{caseID}/collect", h.handleCollect)
	r.Post("/{caseID}/waive", h.handleWaive)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	cases, err := h.service.List(r.Context(), Status(r.URL.Query().Get("status")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cases)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusForErr(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (h *Handler) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Investigate(r.Context(), id, req.Notes); err != nil {
		http.Error(w, err.Error(), statusForErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount < 0 {
		http.Error(w, "amount must not be negative", http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.Collect(r.Context(), id, req.Amount); err != nil {
		http.Error(w, err.Error(), statusForErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleWaive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}

	if err := h.service.Waive(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusForErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCaseAlreadyResolved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
