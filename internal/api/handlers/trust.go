package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/service"
	"github.com/Harshitk-cp/credence/internal/store"
)

// TrustHandler serves CRUD over the belief graph plus on-demand derivation.
type TrustHandler struct {
	store domain.TrustStore
	truth *service.TruthService
}

func NewTrustHandler(ts domain.TrustStore, truth *service.TruthService) *TrustHandler {
	return &TrustHandler{store: ts, truth: truth}
}

type createEntryRequest struct {
	// Content is a self-describing fragment, or plain text that becomes an
	// escaped fact.
	Content string `json:"content"`
	// Strict rejects malformed structure instead of repairing it.
	Strict bool `json:"strict,omitempty"`
}

type listEntriesResponse struct {
	Entries []domain.TrustEntry `json:"entries"`
	Count   int                 `json:"count"`
}

type deriveResponse struct {
	Table domain.CertaintyTable `json:"table"`
	Count int                   `json:"count"`
}

func (h *TrustHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	entry, err := canon.Canonicalize(req.Content, canon.Options{Strict: req.Strict})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Put(r.Context(), entry); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateID):
			writeError(w, http.StatusConflict, "entry already exists")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store entry")
		}
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (h *TrustHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !domain.ValidEntryKind(kind) {
			writeError(w, http.StatusBadRequest, "unknown entry kind")
			return
		}
		filtered := entries[:0]
		for i := range entries {
			if entries[i].Kind == domain.EntryKind(kind) {
				filtered = append(filtered, entries[i])
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, listEntriesResponse{Entries: entries, Count: len(entries)})
}

func (h *TrustHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "entry not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to get entry")
		}
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *TrustHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "entry not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete entry")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Derive runs the fixed-point pass over the stored graph and returns the
// certainty table. Nothing is persisted; derived values live per request.
func (h *TrustHandler) Derive(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	table := h.truth.Derive(entries)
	writeJSON(w, http.StatusOK, deriveResponse{Table: table, Count: len(table)})
}
