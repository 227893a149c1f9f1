package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/store"
)

// ConversationHandler serves read access to the conversation tree. Nodes
// carry parent_id, so clients rebuild the branch structure from the flat
// listing.
type ConversationHandler struct {
	store domain.ConversationStore
}

func NewConversationHandler(cs domain.ConversationStore) *ConversationHandler {
	return &ConversationHandler{store: cs}
}

type conversationSummary struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type listConversationsResponse struct {
	Conversations []conversationSummary `json:"conversations"`
	Count         int                   `json:"count"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	summaries := make([]conversationSummary, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		s := conversationSummary{
			ID:       n.ID,
			ParentID: n.ParentID,
			Title:    n.Title(),
			Messages: len(n.Messages),
		}
		if last := n.LastMessage(); last != nil {
			s.UpdatedAt = last.Time
		}
		summaries = append(summaries, s)
	}

	writeJSON(w, http.StatusOK, listConversationsResponse{
		Conversations: summaries,
		Count:         len(summaries),
	})
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to get conversation")
		}
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
