package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/models"
)

type BadgeRepo struct {
	pool *pgxpool.Pool
}

func NewBadgeRepo(pool *pgxpool.Pool) *BadgeRepo {
	return &BadgeRepo{pool: pool}
}

func (r *BadgeRepo) GetHolding(ctx context.Context, userID uuid.UUID) (*models.BadgeHolding, error) {
	var h models.BadgeHolding
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, current_badge, unlock_levels FROM badge_holdings WHERE user_id = $1
	`, userID).Scan(&h.UserID, &h.CurrentBadge, &h.UnlockLevels)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *BadgeRepo) GetHoldings(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.BadgeHolding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, current_badge, unlock_levels FROM badge_holdings WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]models.BadgeHolding, len(userIDs))
	for rows.Next() {
		var h models.BadgeHolding
		if err := rows.Scan(&h.UserID, &h.CurrentBadge, &h.UnlockLevels); err != nil {
			return nil, err
		}
		out[h.UserID] = h
	}
	return out, rows.Err()
}

func (r *BadgeRepo) UpsertHolding(ctx context.Context, h *models.BadgeHolding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO badge_holdings (user_id, current_badge, unlock_levels)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET current_badge = EXCLUDED.current_badge, unlock_levels = EXCLUDED.unlock_levels, updated_at = now()
	`, h.UserID, h.CurrentBadge, h.UnlockLevels)
	return err
}
