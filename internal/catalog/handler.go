// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	registry Registry
}

func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleAddCopy)
	// Tracking codes contain slashes, so lookup is by query parameter.
	r.Get("/", h.handleListCopies)
	return r
}

func (h *Handler) handleAddCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingCode string    `json:"tracking_code"`
		Title        string    `json:"title"`
		Author       string    `json:"author"`
		CopyNumber   int       `json:"copy_number"`
		Condition    Condition `json:"condition"`
		Notes        string    `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	copy := &BookCopy{
		TrackingCode: req.TrackingCode,
		Title:        req.Title,
		Author:       req.Author,
		CopyNumber:   req.CopyNumber,
		Condition:    req.Condition,
		Notes:        req.Notes,
	}
	if err := h.registry.AddCopy(r.Context(), copy); err != nil {
		http.Error(w, err.Error(), statusForRegistryErr(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(copy)
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("code"); code != "" {
		copy, err := h.registry.Lookup(r.Context(), code)
		if err != nil {
			http.Error(w, err.Error(), statusForRegistryErr(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(copy)
		return
	}

	copies, err := h.registry.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(copies)
}

func statusForRegistryErr(err error) int {
	switch {
	case errors.Is(err, ErrCopyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCopyExists), errors.Is(err, ErrAlreadyBorrowed), errors.Is(err, ErrNotBorrowed), errors.Is(err, ErrNotLost):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTrackingCode), errors.Is(err, ErrInvalidCondition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
