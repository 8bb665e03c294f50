package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/sponsor"
)

type sponsorRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	Referral     string    `json:"referral"`
	CaptureStage string    `json:"capture_stage"`
}

// LockSponsor handles POST /v1/sponsor/lock.
func (h *Handler) LockSponsor(w http.ResponseWriter, r *http.Request) {
	var req sponsorRequest
	if !h.decode(w, r, "sponsor_lock", &req) {
		return
	}
	if req.CaptureStage == "" {
		req.CaptureStage = models.CaptureStageManual
	}
	res, err := h.Sponsors.Lock(r.Context(), sponsor.LockRequest{UserID: req.UserID, Referral: req.Referral, CaptureStage: req.CaptureStage})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// CaptureSponsor handles POST /v1/sponsor/capture.
func (h *Handler) CaptureSponsor(w http.ResponseWriter, r *http.Request) {
	var req sponsorRequest
	if !h.decode(w, r, "sponsor_capture", &req) {
		return
	}
	if req.CaptureStage == "" {
		req.CaptureStage = models.CaptureStageSignup
	}
	link, err := h.Sponsors.Capture(r.Context(), req.UserID, req.Referral, req.CaptureStage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, link)
}

// GetSponsor handles GET /v1/sponsor/{userID}.
func (h *Handler) GetSponsor(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	link, err := h.Sponsors.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "no sponsor link")
		return
	}
	writeOK(w, http.StatusOK, link)
}

// ListReferrals handles GET /v1/sponsor/{userID}/referrals.
func (h *Handler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	links, err := h.Sponsors.DirectReferrals(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if links == nil {
		links = []*models.SponsorLink{}
	}
	writeOK(w, http.StatusOK, links)
}
