// Package badge answers how many referral levels a user may earn from.
package badge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bsknet/backend/internal/models"
)

var (
	ErrUnknownBadge   = errors.New("unknown badge")
	ErrBadgeDowngrade = errors.New("badge upgrade would lower unlocked levels")
)

// TierLevels is the unlock ceiling granted by each badge tier.
var TierLevels = map[string]int{
	models.BadgeNone:     1,
	models.BadgeSilver:   10,
	models.BadgeGold:     20,
	models.BadgePlatinum: 30,
	models.BadgeDiamond:  40,
	models.BadgeVIP:      models.MaxReferralDepth,
}

type Store interface {
	GetHolding(ctx context.Context, userID uuid.UUID) (*models.BadgeHolding, error)
	GetHoldings(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.BadgeHolding, error)
	UpsertHolding(ctx context.Context, h *models.BadgeHolding) error
}

type Resolver struct {
	repo          Store
	defaultLevels int
}

// NewResolver returns a resolver that grants defaultLevels to users with no
// badge row.
func NewResolver(repo Store, defaultLevels int) *Resolver {
	return &Resolver{repo: repo, defaultLevels: clamp(defaultLevels)}
}

func clamp(levels int) int {
	switch {
	case levels < 0:
		return 0
	case levels > models.MaxReferralDepth:
		return models.MaxReferralDepth
	}
	return levels
}

func (r *Resolver) defaultHolding(userID uuid.UUID) models.BadgeHolding {
	return models.BadgeHolding{UserID: userID, CurrentBadge: models.BadgeNone, UnlockLevels: r.defaultLevels}
}

// Holding returns the user's badge, falling back to the default tier.
func (r *Resolver) Holding(ctx context.Context, userID uuid.UUID) (models.BadgeHolding, error) {
	h, err := r.repo.GetHolding(ctx, userID)
	if err != nil {
		return models.BadgeHolding{}, err
	}
	if h == nil {
		return r.defaultHolding(userID), nil
	}
	h.UnlockLevels = clamp(h.UnlockLevels)
	return *h, nil
}

func (r *Resolver) UnlockLevels(ctx context.Context, userID uuid.UUID) (int, error) {
	h, err := r.Holding(ctx, userID)
	if err != nil {
		return 0, err
	}
	return h.UnlockLevels, nil
}

func (r *Resolver) IsPayable(ctx context.Context, userID uuid.UUID, level int) (bool, error) {
	n, err := r.UnlockLevels(ctx, userID)
	if err != nil {
		return false, err
	}
	return level >= 1 && level <= n, nil
}

// Snapshot reads the holdings of userIDs once. Later badge changes do not
// affect the returned value.
func (r *Resolver) Snapshot(ctx context.Context, userIDs []uuid.UUID) (Snapshot, error) {
	snap := make(Snapshot, len(userIDs))
	if len(userIDs) == 0 {
		return snap, nil
	}
	found, err := r.repo.GetHoldings(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load badge holdings: %w", err)
	}
	for _, id := range userIDs {
		h, ok := found[id]
		if !ok {
			h = r.defaultHolding(id)
		}
		h.UnlockLevels = clamp(h.UnlockLevels)
		snap[id] = h
	}
	return snap, nil
}

// Upgrade moves a user to badge. Unlocked levels never decrease.
func (r *Resolver) Upgrade(ctx context.Context, userID uuid.UUID, badge string) (models.BadgeHolding, error) {
	levels, ok := TierLevels[badge]
	if !ok {
		return models.BadgeHolding{}, fmt.Errorf("%w: %q", ErrUnknownBadge, badge)
	}
	cur, err := r.Holding(ctx, userID)
	if err != nil {
		return models.BadgeHolding{}, err
	}
	if levels < cur.UnlockLevels {
		return models.BadgeHolding{}, fmt.Errorf("%w: %s (%d) to %s (%d)", ErrBadgeDowngrade, cur.CurrentBadge, cur.UnlockLevels, badge, levels)
	}
	h := models.BadgeHolding{UserID: userID, CurrentBadge: badge, UnlockLevels: levels}
	if err := r.repo.UpsertHolding(ctx, &h); err != nil {
		return models.BadgeHolding{}, err
	}
	return h, nil
}

// Snapshot is a point-in-time view of badge holdings keyed by user.
type Snapshot map[uuid.UUID]models.BadgeHolding

func (s Snapshot) Payable(userID uuid.UUID, level int) bool {
	h, ok := s[userID]
	return ok && level >= 1 && level <= h.UnlockLevels
}

func (s Snapshot) Badge(userID uuid.UUID) string {
	return s[userID].CurrentBadge
}
