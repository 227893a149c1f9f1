package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/service"
	"github.com/Harshitk-cp/credence/internal/store"
)

// MergeHandler serves snapshot exchange: NDJSON export of the live stores,
// import with collision-safe merge, and the context-rewrite helper used when
// reconciling two shims' system prompts.
type MergeHandler struct {
	trust         domain.TrustStore
	conversations domain.ConversationStore
	logger        *zap.Logger
}

func NewMergeHandler(ts domain.TrustStore, cs domain.ConversationStore, logger *zap.Logger) *MergeHandler {
	return &MergeHandler{trust: ts, conversations: cs, logger: logger}
}

type mergeResponse struct {
	Trust         *service.MergeMeta `json:"trust"`
	Conversations *service.MergeMeta `json:"conversations"`
}

type rewriteContextRequest struct {
	Base          string `json:"base"`
	Incoming      string `json:"incoming"`
	TakeIncoming  bool   `json:"take_incoming,omitempty"`
	WithDelta     bool   `json:"with_delta,omitempty"`
	MaxDeltaChars int    `json:"max_delta_chars,omitempty"`
}

type rewriteContextResponse struct {
	Context string `json:"context"`
}

// Import merges an NDJSON snapshot from the request body into the live
// stores. The body is the same format Export emits. ?strict=true rejects
// malformed records instead of repairing them.
func (h *MergeHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, store.MaxStateBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "snapshot exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	strict := r.URL.Query().Get("strict") == "true"
	incoming, err := store.ParseState(body, store.LoadOptions{Strict: strict})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	baseTrust, err := h.trust.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	baseConvs, err := h.conversations.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	mergedTrust, trustMeta := service.MergeGraphs(baseTrust, incoming.Trust)
	mergedConvs, convMeta := service.MergeTrees(baseConvs, incoming.Conversations)

	if err := h.trust.Replace(r.Context(), mergedTrust); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply merge")
		return
	}
	if err := h.conversations.Replace(r.Context(), mergedConvs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply merge")
		return
	}

	h.logger.Info("snapshot merged",
		zap.Int("trust_added", len(trustMeta.Added)),
		zap.Int("trust_renamed", len(trustMeta.Renamed)),
		zap.Int("trust_skipped", trustMeta.Skipped),
		zap.Int("conversations_added", len(convMeta.Added)),
		zap.Int("messages_added", convMeta.Messages),
	)

	writeJSON(w, http.StatusOK, mergeResponse{Trust: trustMeta, Conversations: convMeta})
}

// RewriteContext applies the keep-one-side context policy to two system
// prompts and returns the result. Nothing is stored.
func (h *MergeHandler) RewriteContext(w http.ResponseWriter, r *http.Request) {
	var req rewriteContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out := service.RewriteContext(req.Base, req.Incoming, service.RewriteOpts{
		TakeIncoming:  req.TakeIncoming,
		WithDelta:     req.WithDelta,
		MaxDeltaChars: req.MaxDeltaChars,
	})

	writeJSON(w, http.StatusOK, rewriteContextResponse{Context: out})
}

// Export streams the live stores as an NDJSON snapshot, byte-compatible
// with the on-disk state file and with Import.
func (h *MergeHandler) Export(w http.ResponseWriter, r *http.Request) {
	trust, err := h.trust.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	convs, err := h.conversations.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	data, err := store.EncodeState(trust, convs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="credence.ndjson"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
