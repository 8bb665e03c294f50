package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Value events that trigger commission distribution.
const (
	EventSignup        = "signup"
	EventKYCApproval   = "kyc_approval"
	EventBadgePurchase = "badge_purchase"
)

// ValidEventType reports whether et is a known value event.
func ValidEventType(et string) bool {
	switch et {
	case EventSignup, EventKYCApproval, EventBadgePurchase:
		return true
	}
	return false
}

// Reward kinds. Level 1 sponsors can receive both for the same event.
const (
	RewardLevel         = "level_reward"
	RewardDirectPercent = "direct_percent"
)

// Commission record statuses.
const (
	CommissionPaid = "paid"
	CommissionZero = "zero"
)

type CommissionRecord struct {
	ID                 uuid.UUID       `json:"id"`
	EarnerID           uuid.UUID       `json:"earner_id"`
	PayerID            uuid.UUID       `json:"payer_id"`
	Level              int             `json:"level"`
	EventType          string          `json:"event_type"`
	EventID            string          `json:"event_id"`
	RewardKind         string          `json:"reward_kind"`
	BSKAmount          decimal.Decimal `json:"bsk_amount"`
	Destination        string          `json:"destination"`
	Status             string          `json:"status"`
	EarnerBadgeAtEvent string          `json:"earner_badge_at_event"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ValueEvent is the audit row of a distributed event, used by backfill.
type ValueEvent struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	PayerID    uuid.UUID       `json:"payer_id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	CreatedAt  time.Time       `json:"created_at"`
}
