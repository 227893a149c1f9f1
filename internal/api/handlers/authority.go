package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Harshitk-cp/credence/internal/service"
)

// AuthorityHandler exposes the remote-table cache: which targets are held
// and a way to force a re-fetch without waiting for the refresh loop.
type AuthorityHandler struct {
	resolver *service.AuthorityResolver
}

func NewAuthorityHandler(resolver *service.AuthorityResolver) *AuthorityHandler {
	return &AuthorityHandler{resolver: resolver}
}

type listAuthoritiesResponse struct {
	Targets []string `json:"targets"`
	Count   int      `json:"count"`
}

type refreshAuthorityRequest struct {
	Target string `json:"target"`
}

func (h *AuthorityHandler) List(w http.ResponseWriter, r *http.Request) {
	targets := h.resolver.CachedTargets()
	writeJSON(w, http.StatusOK, listAuthoritiesResponse{Targets: targets, Count: len(targets)})
}

func (h *AuthorityHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshAuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	if err := h.resolver.Refresh(r.Context(), req.Target); err != nil {
		writeError(w, http.StatusBadGateway, "failed to refresh authority table")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
