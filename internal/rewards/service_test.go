package rewards

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsknet/backend/internal/models"
)

type memStore struct{ rows map[int]models.LevelReward }

func (m *memStore) ListLevelRewards(context.Context) ([]models.LevelReward, error) {
	var out []models.LevelReward
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) UpsertLevelReward(_ context.Context, r *models.LevelReward) error {
	m.rows[r.Level] = *r
	return nil
}

func TestActiveSnapshotSkipsInactive(t *testing.T) {
	store := &memStore{rows: map[int]models.LevelReward{}}
	svc := NewService(store, DirectPolicy{})
	ctx := context.Background()

	_, err := svc.Upsert(ctx, models.LevelReward{Level: 1, BSKAmount: decimal.NewFromInt(5), BalanceType: models.BalanceHolding, IsActive: true})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, models.LevelReward{Level: 2, BSKAmount: decimal.NewFromInt(2), BalanceType: models.BalanceHolding, IsActive: false})
	require.NoError(t, err)

	table, err := svc.ActiveSnapshot(ctx)
	require.NoError(t, err)

	r, err := table.Lookup(1)
	require.NoError(t, err)
	assert.True(t, r.BSKAmount.Equal(decimal.NewFromInt(5)))

	_, err = table.Lookup(2)
	assert.ErrorIs(t, err, ErrConfigMissing)
	_, err = table.Lookup(3)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(&memStore{rows: map[int]models.LevelReward{}}, DirectPolicy{})
	bad := []models.LevelReward{
		{Level: 0, BalanceType: models.BalanceHolding},
		{Level: 51, BalanceType: models.BalanceHolding},
		{Level: 3, BSKAmount: decimal.NewFromInt(-1), BalanceType: models.BalanceHolding},
		{Level: 3, BalanceType: "savings"},
	}
	for _, r := range bad {
		_, err := svc.Upsert(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidReward)
	}
}

func TestDirectPolicyAmount(t *testing.T) {
	p := DirectPolicy{Percent: decimal.NewFromInt(10), BalanceType: models.BalanceWithdrawable}
	assert.True(t, p.Amount(decimal.NewFromInt(250)).Equal(decimal.NewFromInt(25)))
	assert.True(t, p.Amount(decimal.Zero).IsZero())
	assert.True(t, DirectPolicy{}.Amount(decimal.NewFromInt(100)).IsZero())
	assert.Equal(t, models.BalanceWithdrawable, NewService(nil, DirectPolicy{BalanceType: "bogus"}).Direct().BalanceType)
}
