// Package handlers serves the referral core over HTTP. Every response is a
// JSON envelope with a success flag; failures carry an error message.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bsknet/backend/internal/badge"
	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/ledger"
	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/rebuild"
	"github.com/bsknet/backend/internal/rewards"
	"github.com/bsknet/backend/internal/sponsor"
	"github.com/bsknet/backend/internal/tree"
)

const maxBodyBytes = 1 << 20

type SponsorService interface {
	Lock(ctx context.Context, req sponsor.LockRequest) (sponsor.LockResult, error)
	Capture(ctx context.Context, userID uuid.UUID, referral, stage string) (*models.SponsorLink, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.SponsorLink, error)
	DirectReferrals(ctx context.Context, sponsorID uuid.UUID, limit int) ([]*models.SponsorLink, error)
}

type TreeService interface {
	BuildFor(ctx context.Context, userID uuid.UUID, force bool) (tree.BuildResult, error)
	Ancestors(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error)
}

type CommissionService interface {
	Distribute(ctx context.Context, ev commission.Event) (commission.Result, error)
	ListRecords(ctx context.Context, f commission.RecordFilter) ([]*models.CommissionRecord, error)
	Backfill(ctx context.Context, earnerID uuid.UUID, since time.Time, limit int) (commission.BackfillResult, error)
}

// JobQueue schedules work on River instead of running it in the request.
type JobQueue interface {
	EnqueueDistribution(ctx context.Context, ev commission.Event) error
	EnqueueRebuild(ctx context.Context, force, includeUnlocked bool) error
}

type LedgerService interface {
	Apply(ctx context.Context, req ledger.ApplyRequest) (ledger.ApplyResult, error)
	Balances(ctx context.Context, userID uuid.UUID) ([]*models.Balance, error)
	Entries(ctx context.Context, userID uuid.UUID, balanceType string, limit int) ([]*models.LedgerEntry, error)
	Reconcile(ctx context.Context, userID uuid.UUID, balanceType string) (ledger.ReconcileReport, error)
}

type BadgeService interface {
	Holding(ctx context.Context, userID uuid.UUID) (models.BadgeHolding, error)
	Upgrade(ctx context.Context, userID uuid.UUID, badge string) (models.BadgeHolding, error)
}

type RewardService interface {
	List(ctx context.Context) ([]models.LevelReward, error)
	Upsert(ctx context.Context, r models.LevelReward) (models.LevelReward, error)
}

type RebuildService interface {
	RebuildAll(ctx context.Context, opts rebuild.Options) (rebuild.Report, error)
}

type Handler struct {
	Sponsors    SponsorService
	Trees       TreeService
	Commissions CommissionService
	Queue       JobQueue
	Ledger      LedgerService
	Badges      BadgeService
	Rewards     RewardService
	Rebuild     RebuildService
	Validator   *Validator
	Logger      *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// decode validates the body against schema and unmarshals it into out. It
// writes the error response itself and reports whether the caller may go on.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// fail maps domain errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, sponsor.ErrInvalidReferral):
		status = http.StatusNotFound
	case errors.Is(err, sponsor.ErrSelfReferral),
		errors.Is(err, ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sponsor.ErrSponsorCycle),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrIdempotencyConflict),
		errors.Is(err, badge.ErrBadgeDowngrade):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidRequest),
		errors.Is(err, commission.ErrInvalidEvent),
		errors.Is(err, rewards.ErrInvalidReward),
		errors.Is(err, badge.ErrUnknownBadge),
		errors.Is(err, sponsor.ErrInvalidCaptureStage):
		status = http.StatusBadRequest
	default:
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"ok": true})
}
