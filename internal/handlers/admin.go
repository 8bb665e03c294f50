package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/rebuild"
)

// RebuildAll handles POST /v1/admin/rebuild.
func (h *Handler) RebuildAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		rebuild.Options
		Async bool `json:"async"`
	}
	if !h.decode(w, r, "admin_rebuild", &req) {
		return
	}
	if req.Async {
		if err := h.Queue.EnqueueRebuild(r.Context(), req.Force, req.IncludeUnlocked); err != nil {
			h.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusAccepted, map[string]any{"queued": true})
		return
	}
	rep, err := h.Rebuild.RebuildAll(r.Context(), req.Options)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, rep)
}

// ListLevelRewards handles GET /v1/admin/level-rewards.
func (h *Handler) ListLevelRewards(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rewards.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.LevelReward{}
	}
	writeOK(w, http.StatusOK, list)
}

// PutLevelReward handles PUT /v1/admin/level-rewards/{level}.
func (h *Handler) PutLevelReward(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}
	var req struct {
		BSKAmount   decimal.Decimal `json:"bsk_amount"`
		BalanceType string          `json:"balance_type"`
		IsActive    *bool           `json:"is_active"`
	}
	if !h.decode(w, r, "admin_level_reward", &req) {
		return
	}
	active := req.IsActive == nil || *req.IsActive
	saved, err := h.Rewards.Upsert(r.Context(), models.LevelReward{Level: level, BSKAmount: req.BSKAmount, BalanceType: req.BalanceType, IsActive: active})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, saved)
}

// Backfill handles POST /v1/admin/commission/backfill.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EarnerID uuid.UUID `json:"earner_id"`
		Since    time.Time `json:"since"`
		Limit    int       `json:"limit"`
	}
	if !h.decode(w, r, "admin_backfill", &req) {
		return
	}
	res, err := h.Commissions.Backfill(r.Context(), req.EarnerID, req.Since, req.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// Reconcile handles GET /v1/admin/ledger/{userID}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	bt := r.URL.Query().Get("balance_type")
	if bt == "" {
		bt = models.BalanceWithdrawable
	}
	rep, err := h.Ledger.Reconcile(r.Context(), userID, bt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, rep)
}

// PutBadge handles PUT /v1/admin/badges/{userID}.
func (h *Handler) PutBadge(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req struct {
		Badge string `json:"badge"`
	}
	if !h.decode(w, r, "admin_badge", &req) {
		return
	}
	holding, err := h.Badges.Upgrade(r.Context(), userID, req.Badge)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, holding)
}
