package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/service"
	"github.com/Harshitk-cp/credence/internal/store"
)

// ChatHandler serves the chat surface: one POST runs a full turn through
// retrieval, the voting round and conversation persistence.
type ChatHandler struct {
	service *service.ChatService
}

func NewChatHandler(s *service.ChatService) *ChatHandler {
	return &ChatHandler{service: s}
}

type chatRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
	Username       string   `json:"username,omitempty"`
	Message        string   `json:"message"`
	CallChain      []string `json:"call_chain,omitempty"`
	MaxSources     int      `json:"max_sources,omitempty"`
	MinCertainty   float64  `json:"min_certainty,omitempty"`
}

type chatResponse struct {
	ConversationID string              `json:"conversation_id"`
	UserMessage    domain.Message      `json:"user_message"`
	Reply          domain.Message      `json:"reply"`
	Provider       string              `json:"provider,omitempty"`
	Folded         []domain.TrustEntry `json:"folded,omitempty"`
	Sources        []sourceRef         `json:"sources,omitempty"`
}

// sourceRef is the grounding slice of a reply: which entries were quoted to
// the provider and at what derived certainty.
type sourceRef struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	Certainty float64 `json:"certainty"`
}

func (h *ChatHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Respond(r.Context(), service.ChatRequest{
		ConversationID: req.ConversationID,
		ParentID:       req.ParentID,
		Username:       req.Username,
		Message:        req.Message,
		CallChain:      req.CallChain,
		Retrieval: domain.RetrievalOpts{
			MaxEntries:   req.MaxSources,
			MinCertainty: req.MinCertainty,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message is required")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, service.ErrNoProvider):
			writeError(w, http.StatusServiceUnavailable, "no provider available")
		default:
			writeError(w, http.StatusInternalServerError, "chat turn failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: result.ConversationID,
		UserMessage:    result.UserMessage,
		Reply:          result.Reply,
		Provider:       result.Provider,
		Folded:         result.Folded,
		Sources:        sourceRefs(result.Sources),
	})
}

func sourceRefs(entries []domain.TrustEntry) []sourceRef {
	if len(entries) == 0 {
		return nil
	}
	out := make([]sourceRef, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, sourceRef{
			ID:        e.ID,
			Title:     e.Title,
			Certainty: e.EffectiveCertainty(),
		})
	}
	return out
}
