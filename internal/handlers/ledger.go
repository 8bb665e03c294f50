package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/ledger"
	"github.com/bsknet/backend/internal/models"
)

type applyRequest struct {
	UserID         uuid.UUID       `json:"user_id"`
	BalanceType    string          `json:"balance_type"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	TxType         string          `json:"tx_type"`
	TxSubtype      string          `json:"tx_subtype"`
	Metadata       json.RawMessage `json:"metadata"`
}

// ApplyLedger handles POST /v1/ledger/apply.
func (h *Handler) ApplyLedger(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !h.decode(w, r, "ledger_apply", &req) {
		return
	}
	res, err := h.Ledger.Apply(r.Context(), ledger.ApplyRequest{
		UserID:         req.UserID,
		BalanceType:    req.BalanceType,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		TxType:         req.TxType,
		TxSubtype:      req.TxSubtype,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// GetBalances handles GET /v1/ledger/{userID}/balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	balances, err := h.Ledger.Balances(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if balances == nil {
		balances = []*models.Balance{}
	}
	writeOK(w, http.StatusOK, balances)
}

// ListEntries handles GET /v1/ledger/{userID}/entries.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), userID, r.URL.Query().Get("balance_type"), queryInt(r, "limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeOK(w, http.StatusOK, entries)
}

// GetBadge handles GET /v1/badges/{userID}.
func (h *Handler) GetBadge(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	holding, err := h.Badges.Holding(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, holding)
}
