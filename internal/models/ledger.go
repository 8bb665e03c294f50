package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger tx_type values.
const (
	TxCommission       = "commission"
	TxLoanPrepayment   = "loan_prepayment"
	TxInsurancePayout  = "insurance_payout"
	TxInsurancePremium = "insurance_premium"
	TxBadgePurchase    = "badge_purchase"
	TxAdjustment       = "adjustment"
)

// ValidTxType reports whether tt is a known ledger tx_type.
func ValidTxType(tt string) bool {
	switch tt {
	case TxCommission, TxLoanPrepayment, TxInsurancePayout, TxInsurancePremium, TxBadgePurchase, TxAdjustment:
		return true
	}
	return false
}

type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	BalanceType    string          `json:"balance_type"`
	AmountBSK      decimal.Decimal `json:"amount_bsk"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	IdempotencyKey string          `json:"idempotency_key"`
	TxType         string          `json:"tx_type"`
	TxSubtype      string          `json:"tx_subtype"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Balance struct {
	UserID      uuid.UUID       `json:"user_id"`
	BalanceType string          `json:"balance_type"`
	Amount      decimal.Decimal `json:"amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
