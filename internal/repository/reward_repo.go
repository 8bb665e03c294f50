package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsknet/backend/internal/models"
)

type RewardRepo struct {
	pool *pgxpool.Pool
}

func NewRewardRepo(pool *pgxpool.Pool) *RewardRepo {
	return &RewardRepo{pool: pool}
}

func (r *RewardRepo) ListLevelRewards(ctx context.Context) ([]models.LevelReward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT level, bsk_amount, balance_type, is_active, updated_at FROM level_rewards ORDER BY level
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LevelReward
	for rows.Next() {
		var lr models.LevelReward
		if err := rows.Scan(&lr.Level, &lr.BSKAmount, &lr.BalanceType, &lr.IsActive, &lr.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, lr)
	}
	return list, rows.Err()
}

func (r *RewardRepo) UpsertLevelReward(ctx context.Context, lr *models.LevelReward) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO level_rewards (level, bsk_amount, balance_type, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (level) DO UPDATE
		SET bsk_amount = EXCLUDED.bsk_amount, balance_type = EXCLUDED.balance_type,
		    is_active = EXCLUDED.is_active, updated_at = now()
		RETURNING updated_at
	`, lr.Level, lr.BSKAmount, lr.BalanceType, lr.IsActive).Scan(&lr.UpdatedAt)
}
