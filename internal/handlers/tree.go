package handlers

import (
	"net/http"

	"github.com/bsknet/backend/internal/models"
)

// BuildTree handles POST /v1/tree/{userID}/build.
func (h *Handler) BuildTree(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if !h.decode(w, r, "tree_build", &req) {
		return
	}
	res, err := h.Trees.BuildFor(r.Context(), userID, req.Force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// GetAncestors handles GET /v1/tree/{userID}/ancestors.
func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	edges, err := h.Trees.Ancestors(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if edges == nil {
		edges = []models.TreeEdge{}
	}
	writeOK(w, http.StatusOK, edges)
}
