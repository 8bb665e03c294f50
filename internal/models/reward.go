package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance buckets a BSK amount can be routed to.
const (
	BalanceWithdrawable = "withdrawable"
	BalanceHolding      = "holding"
)

// ValidBalanceType reports whether bt names a known balance bucket.
func ValidBalanceType(bt string) bool {
	return bt == BalanceWithdrawable || bt == BalanceHolding
}

type LevelReward struct {
	Level       int             `json:"level"`
	BSKAmount   decimal.Decimal `json:"bsk_amount"`
	BalanceType string          `json:"balance_type"`
	IsActive    bool            `json:"is_active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
