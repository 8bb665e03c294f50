// Package rewards holds the admin-editable per-level reward table and the
// level-1 direct percentage policy.
package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/models"
)

var (
	// ErrConfigMissing means no active reward exists for a level. Callers treat
	// it as "not configured yet" and skip the level.
	ErrConfigMissing = errors.New("no active reward configured for level")
	ErrInvalidReward = errors.New("invalid level reward")
)

type Store interface {
	ListLevelRewards(ctx context.Context) ([]models.LevelReward, error)
	UpsertLevelReward(ctx context.Context, r *models.LevelReward) error
}

// DirectPolicy pays level 1 sponsors Percent of the event's base amount on
// top of the fixed level reward.
type DirectPolicy struct {
	Percent     decimal.Decimal
	BalanceType string
}

// Amount returns the direct commission for base, rounded to 8 places.
func (p DirectPolicy) Amount(base decimal.Decimal) decimal.Decimal {
	if p.Percent.IsZero() || base.IsNegative() {
		return decimal.Zero
	}
	return base.Mul(p.Percent).Div(decimal.NewFromInt(100)).Round(8)
}

type Service struct {
	repo   Store
	direct DirectPolicy
}

func NewService(repo Store, direct DirectPolicy) *Service {
	if !models.ValidBalanceType(direct.BalanceType) {
		direct.BalanceType = models.BalanceWithdrawable
	}
	return &Service{repo: repo, direct: direct}
}

func (s *Service) Direct() DirectPolicy { return s.direct }

func (s *Service) List(ctx context.Context) ([]models.LevelReward, error) {
	return s.repo.ListLevelRewards(ctx)
}

func (s *Service) Upsert(ctx context.Context, r models.LevelReward) (models.LevelReward, error) {
	switch {
	case r.Level < 1 || r.Level > models.MaxReferralDepth:
		return models.LevelReward{}, fmt.Errorf("%w: level %d out of range 1..%d", ErrInvalidReward, r.Level, models.MaxReferralDepth)
	case r.BSKAmount.IsNegative():
		return models.LevelReward{}, fmt.Errorf("%w: bsk_amount must not be negative", ErrInvalidReward)
	case !models.ValidBalanceType(r.BalanceType):
		return models.LevelReward{}, fmt.Errorf("%w: unknown balance type %q", ErrInvalidReward, r.BalanceType)
	}
	if err := s.repo.UpsertLevelReward(ctx, &r); err != nil {
		return models.LevelReward{}, err
	}
	return r, nil
}

// ActiveSnapshot reads the active rewards once for a distribution call.
func (s *Service) ActiveSnapshot(ctx context.Context) (Table, error) {
	all, err := s.repo.ListLevelRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("load level rewards: %w", err)
	}
	t := make(Table, len(all))
	for _, r := range all {
		if r.IsActive {
			t[r.Level] = r
		}
	}
	return t, nil
}

// Table maps level to its active reward.
type Table map[int]models.LevelReward

func (t Table) Lookup(level int) (models.LevelReward, error) {
	r, ok := t[level]
	if !ok {
		return models.LevelReward{}, fmt.Errorf("%w: %d", ErrConfigMissing, level)
	}
	return r, nil
}
