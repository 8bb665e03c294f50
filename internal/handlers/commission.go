package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/models"
)

type distributeRequest struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	PayerID    uuid.UUID       `json:"payer_id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Async      bool            `json:"async"`
}

// Distribute handles POST /v1/commission/distribute. With async set the
// event is queued and 202 returned; the caller never waits on payouts.
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !h.decode(w, r, "commission_distribute", &req) {
		return
	}
	ev := commission.Event{Type: req.EventType, ID: req.EventID, PayerID: req.PayerID, BaseAmount: req.BaseAmount}
	if req.Async {
		if err := h.Queue.EnqueueDistribution(r.Context(), ev); err != nil {
			h.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusAccepted, map[string]any{"queued": true})
		return
	}
	res, err := h.Commissions.Distribute(r.Context(), ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// ListRecords handles GET /v1/commission/records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := commission.RecordFilter{
		EventType: q.Get("event_type"),
		EventID:   q.Get("event_id"),
		Limit:     queryInt(r, "limit"),
	}
	for name, dst := range map[string]**uuid.UUID{"earner_id": &f.EarnerID, "payer_id": &f.PayerID} {
		if raw := q.Get(name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = &id
		}
	}
	if f.EarnerID == nil && f.PayerID == nil && f.EventID == "" {
		writeError(w, http.StatusBadRequest, "one of earner_id, payer_id or event_id is required")
		return
	}
	records, err := h.Commissions.ListRecords(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*models.CommissionRecord{}
	}
	writeOK(w, http.StatusOK, records)
}
