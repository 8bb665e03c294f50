// Package commission pays value-event rewards up the materialized referral
// tree, at most once per earner, level, event and reward kind.
package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/badge"
	"github.com/bsknet/backend/internal/ledger"
	"github.com/bsknet/backend/internal/metrics"
	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/rewards"
)

var (
	ErrInvalidEvent = errors.New("invalid value event")
	// ErrLedgerKeyTaken means a new commission record met an existing ledger
	// entry. The line is rolled back so the record never claims unpaid money.
	ErrLedgerKeyTaken = errors.New("commission ledger key already used")
)

type Store interface {
	// RecordValueEvent stores ev once; repeated calls are no-ops.
	RecordValueEvent(ctx context.Context, ev *models.ValueEvent) error
	// InsertRecord returns false when the de-duplication key already exists.
	InsertRecord(ctx context.Context, tx pgx.Tx, rec *models.CommissionRecord) (bool, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]*models.CommissionRecord, error)
	// ListEarnerEvents returns value events since the given time whose payer
	// has earnerID as an ancestor, with the level it sits at.
	ListEarnerEvents(ctx context.Context, earnerID uuid.UUID, since time.Time, limit int) ([]EarnerEvent, error)
}

type Ancestry interface {
	Ancestors(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error)
}

type Badges interface {
	Snapshot(ctx context.Context, userIDs []uuid.UUID) (badge.Snapshot, error)
}

type Rewards interface {
	ActiveSnapshot(ctx context.Context) (rewards.Table, error)
	Direct() rewards.DirectPolicy
}

type Ledger interface {
	ApplyTx(ctx context.Context, tx pgx.Tx, req ledger.ApplyRequest) (ledger.ApplyResult, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Event struct {
	Type       string          `json:"event_type"`
	ID         string          `json:"event_id"`
	PayerID    uuid.UUID       `json:"payer_id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

func (e Event) validate() error {
	switch {
	case strings.TrimSpace(e.Type) == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	case e.PayerID == uuid.Nil:
		return fmt.Errorf("%w: payer_id is required", ErrInvalidEvent)
	case e.BaseAmount.IsNegative():
		return fmt.Errorf("%w: base_amount must not be negative", ErrInvalidEvent)
	}
	return nil
}

// EarnerEvent is a recorded value event seen from one ancestor.
type EarnerEvent struct {
	Event models.ValueEvent
	Level int
}

type RecordFilter struct {
	EarnerID  *uuid.UUID
	PayerID   *uuid.UUID
	EventType string
	EventID   string
	Limit     int
}

type LineFailure struct {
	EarnerID   uuid.UUID `json:"earner_id"`
	Level      int       `json:"level"`
	RewardKind string    `json:"reward_kind"`
	Error      string    `json:"error"`
}

type Result struct {
	PaidLevels int             `json:"paid_levels"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Records    int             `json:"records_created"`
	Duplicates int             `json:"duplicates"`
	Failures   []LineFailure   `json:"failures,omitempty"`
}

type BackfillResult struct {
	EventsScanned int `json:"events_scanned"`
	Result
}

type Engine struct {
	pool    TxBeginner
	repo    Store
	tree    Ancestry
	badges  Badges
	rewards Rewards
	ledger  Ledger
	log     *slog.Logger
}

func NewEngine(pool TxBeginner, repo Store, tree Ancestry, badges Badges, rw Rewards, l Ledger, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{pool: pool, repo: repo, tree: tree, badges: badges, rewards: rw, ledger: l, log: log}
}

// line is one reward owed to one ancestor for one event.
type line struct {
	kind        string
	amount      decimal.Decimal
	destination string
}

// Distribute pays every payable ancestor of ev.PayerID. Each line commits in
// its own transaction, so a failure for one ancestor is reported in the
// result and does not stop the others.
func (e *Engine) Distribute(ctx context.Context, ev Event) (Result, error) {
	res := Result{TotalPaid: decimal.Zero}
	if err := ev.validate(); err != nil {
		return res, err
	}
	if err := e.repo.RecordValueEvent(ctx, &models.ValueEvent{
		EventType:  ev.Type,
		EventID:    ev.ID,
		PayerID:    ev.PayerID,
		BaseAmount: ev.BaseAmount,
	}); err != nil {
		return res, fmt.Errorf("record value event: %w", err)
	}

	edges, err := e.tree.Ancestors(ctx, ev.PayerID)
	if err != nil {
		return res, fmt.Errorf("load ancestors: %w", err)
	}
	if len(edges) == 0 {
		return res, nil
	}

	table, err := e.rewards.ActiveSnapshot(ctx)
	if err != nil {
		return res, err
	}
	ids := make([]uuid.UUID, len(edges))
	for i, edge := range edges {
		ids[i] = edge.AncestorID
	}
	snap, err := e.badges.Snapshot(ctx, ids)
	if err != nil {
		return res, err
	}

	for _, edge := range edges {
		e.payAncestor(ctx, ev, edge.AncestorID, edge.Level, table, snap, &res)
	}
	e.log.Info("commission distributed",
		"event_type", ev.Type, "event_id", ev.ID, "payer_id", ev.PayerID,
		"paid_levels", res.PaidLevels, "total_paid", res.TotalPaid.String(), "failures", len(res.Failures))
	return res, nil
}

// Backfill pays earnerID for recorded events since the given time at levels
// the earner has unlocked now. Lines already paid are skipped by the same
// de-duplication key Distribute uses.
func (e *Engine) Backfill(ctx context.Context, earnerID uuid.UUID, since time.Time, limit int) (BackfillResult, error) {
	out := BackfillResult{Result: Result{TotalPaid: decimal.Zero}}
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	events, err := e.repo.ListEarnerEvents(ctx, earnerID, since, limit)
	if err != nil {
		return out, fmt.Errorf("list earner events: %w", err)
	}
	out.EventsScanned = len(events)
	if len(events) == 0 {
		return out, nil
	}
	table, err := e.rewards.ActiveSnapshot(ctx)
	if err != nil {
		return out, err
	}
	snap, err := e.badges.Snapshot(ctx, []uuid.UUID{earnerID})
	if err != nil {
		return out, err
	}
	for _, ee := range events {
		ev := Event{Type: ee.Event.EventType, ID: ee.Event.EventID, PayerID: ee.Event.PayerID, BaseAmount: ee.Event.BaseAmount}
		e.payAncestor(ctx, ev, earnerID, ee.Level, table, snap, &out.Result)
	}
	e.log.Info("commission backfill finished", "earner_id", earnerID, "since", since,
		"events", out.EventsScanned, "records", out.Records, "total_paid", out.TotalPaid.String())
	return out, nil
}

func (e *Engine) ListRecords(ctx context.Context, f RecordFilter) ([]*models.CommissionRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 200
	}
	return e.repo.ListRecords(ctx, f)
}

func (e *Engine) linesFor(ev Event, level int, table rewards.Table) ([]line, bool) {
	reward, err := table.Lookup(level)
	if err != nil {
		return nil, false
	}
	var lines []line
	if level == 1 {
		direct := e.rewards.Direct()
		if direct.Percent.IsPositive() {
			lines = append(lines, line{kind: models.RewardDirectPercent, amount: direct.Amount(ev.BaseAmount), destination: direct.BalanceType})
		}
	}
	lines = append(lines, line{kind: models.RewardLevel, amount: reward.BSKAmount, destination: reward.BalanceType})
	return lines, true
}

func (e *Engine) payAncestor(ctx context.Context, ev Event, earnerID uuid.UUID, level int, table rewards.Table, snap badge.Snapshot, res *Result) {
	if !snap.Payable(earnerID, level) {
		metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), models.RewardLevel, "locked").Inc()
		return
	}
	lines, ok := e.linesFor(ev, level, table)
	if !ok {
		metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), models.RewardLevel, "unconfigured").Inc()
		return
	}
	paidHere := false
	for _, ln := range lines {
		created, err := e.payLine(ctx, ev, earnerID, level, ln, snap.Badge(earnerID))
		if err != nil {
			metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), ln.kind, "failed").Inc()
			e.log.Error("commission line failed",
				"event_type", ev.Type, "event_id", ev.ID, "earner_id", earnerID, "level", level, "reward_kind", ln.kind, "error", err)
			res.Failures = append(res.Failures, LineFailure{EarnerID: earnerID, Level: level, RewardKind: ln.kind, Error: err.Error()})
			continue
		}
		if !created {
			metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), ln.kind, "duplicate").Inc()
			res.Duplicates++
			continue
		}
		res.Records++
		if ln.amount.IsPositive() {
			metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), ln.kind, "paid").Inc()
			metrics.CommissionPaidBSK.WithLabelValues(ln.destination).Add(ln.amount.InexactFloat64())
			res.TotalPaid = res.TotalPaid.Add(ln.amount)
			paidHere = true
		} else {
			metrics.CommissionLines.WithLabelValues(eventLabel(ev.Type), ln.kind, "zero").Inc()
		}
	}
	if paidHere {
		res.PaidLevels++
	}
}

// eventLabel bounds the metric label set to the known event types; producers
// may send any type.
func eventLabel(eventType string) string {
	if models.ValidEventType(eventType) {
		return eventType
	}
	return "other"
}

// IdempotencyKey is the ledger key of one commission line. It carries every
// column of the record's de-dup key, so distinct records never share a key.
func IdempotencyKey(eventType, eventID string, payerID, earnerID uuid.UUID, level int, kind string) string {
	return fmt.Sprintf("commission:%s:%s:%s:%s:%d:%s", eventType, eventID, payerID, earnerID, level, kind)
}

// payLine writes the record and the ledger credit in one transaction. It
// returns false when the record already existed.
func (e *Engine) payLine(ctx context.Context, ev Event, earnerID uuid.UUID, level int, ln line, badgeAtEvent string) (bool, error) {
	status := models.CommissionPaid
	if !ln.amount.IsPositive() {
		status = models.CommissionZero
	}
	rec := &models.CommissionRecord{
		ID:                 uuid.New(),
		EarnerID:           earnerID,
		PayerID:            ev.PayerID,
		Level:              level,
		EventType:          ev.Type,
		EventID:            ev.ID,
		RewardKind:         ln.kind,
		BSKAmount:          ln.amount,
		Destination:        ln.destination,
		Status:             status,
		EarnerBadgeAtEvent: badgeAtEvent,
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	created, err := e.repo.InsertRecord(ctx, tx, rec)
	if err != nil {
		return false, fmt.Errorf("insert commission record: %w", err)
	}
	if !created {
		return false, nil
	}
	if status == models.CommissionPaid {
		meta, _ := json.Marshal(map[string]any{
			"record_id":  rec.ID,
			"payer_id":   ev.PayerID,
			"level":      level,
			"event_type": ev.Type,
			"event_id":   ev.ID,
		})
		key := IdempotencyKey(ev.Type, ev.ID, ev.PayerID, earnerID, level, ln.kind)
		applied, err := e.ledger.ApplyTx(ctx, tx, ledger.ApplyRequest{
			UserID:         earnerID,
			BalanceType:    ln.destination,
			Amount:         ln.amount,
			IdempotencyKey: key,
			TxType:         models.TxCommission,
			TxSubtype:      ln.kind,
			Metadata:       meta,
		})
		if err != nil {
			return false, fmt.Errorf("apply commission credit: %w", err)
		}
		// A record created in this transaction must own a new ledger entry.
		if applied.Duplicate {
			return false, fmt.Errorf("%w: %q", ErrLedgerKeyTaken, key)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
