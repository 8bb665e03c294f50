package models

import "github.com/google/uuid"

// Badge tiers sold by the upgrade service, lowest first.
const (
	BadgeNone     = "none"
	BadgeSilver   = "silver"
	BadgeGold     = "gold"
	BadgePlatinum = "platinum"
	BadgeDiamond  = "diamond"
	BadgeVIP      = "vip"
)

type BadgeHolding struct {
	UserID       uuid.UUID `json:"user_id"`
	CurrentBadge string    `json:"current_badge"`
	UnlockLevels int       `json:"unlock_levels"`
}
