package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/models"
)

type CommissionRepo struct {
	pool *pgxpool.Pool
}

func NewCommissionRepo(pool *pgxpool.Pool) *CommissionRepo {
	return &CommissionRepo{pool: pool}
}

var _ commission.Store = (*CommissionRepo)(nil)

func (r *CommissionRepo) RecordValueEvent(ctx context.Context, ev *models.ValueEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO value_events (event_type, event_id, payer_id, base_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_type, event_id, payer_id) DO NOTHING
	`, ev.EventType, ev.EventID, ev.PayerID, ev.BaseAmount)
	return err
}

func (r *CommissionRepo) InsertRecord(ctx context.Context, tx pgx.Tx, c *models.CommissionRecord) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO commission_records
			(id, earner_id, payer_id, level, event_type, event_id, reward_kind, bsk_amount, destination, status, earner_badge_at_event)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (earner_id, payer_id, level, event_type, event_id, reward_kind) DO NOTHING
	`, c.ID, c.EarnerID, c.PayerID, c.Level, c.EventType, c.EventID, c.RewardKind, c.BSKAmount, c.Destination, c.Status, c.EarnerBadgeAtEvent)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CommissionRepo) ListRecords(ctx context.Context, f commission.RecordFilter) ([]*models.CommissionRecord, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EarnerID != nil {
		add("earner_id = $%d", *f.EarnerID)
	}
	if f.PayerID != nil {
		add("payer_id = $%d", *f.PayerID)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.EventID != "" {
		add("event_id = $%d", f.EventID)
	}
	q := `SELECT id, earner_id, payer_id, level, event_type, event_id, reward_kind, bsk_amount, destination, status, earner_badge_at_event, created_at
		FROM commission_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC, level LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CommissionRecord
	for rows.Next() {
		var c models.CommissionRecord
		if err := rows.Scan(&c.ID, &c.EarnerID, &c.PayerID, &c.Level, &c.EventType, &c.EventID, &c.RewardKind, &c.BSKAmount, &c.Destination, &c.Status, &c.EarnerBadgeAtEvent, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

func (r *CommissionRepo) ListEarnerEvents(ctx context.Context, earnerID uuid.UUID, since time.Time, limit int) ([]commission.EarnerEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ve.event_type, ve.event_id, ve.payer_id, ve.base_amount, ve.created_at, rt.level
		FROM value_events ve
		JOIN referral_tree rt ON rt.user_id = ve.payer_id AND rt.ancestor_id = $1
		WHERE ve.created_at >= $2
		ORDER BY ve.created_at, ve.event_id
		LIMIT $3
	`, earnerID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []commission.EarnerEvent
	for rows.Next() {
		var ee commission.EarnerEvent
		if err := rows.Scan(&ee.Event.EventType, &ee.Event.EventID, &ee.Event.PayerID, &ee.Event.BaseAmount, &ee.Event.CreatedAt, &ee.Level); err != nil {
			return nil, err
		}
		list = append(list, ee)
	}
	return list, rows.Err()
}
