package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxReferralDepth is the hard cap on referral levels.
const MaxReferralDepth = 50

// TreeEdge is one materialized ancestor of a user. Path runs from the user
// (first element) up to and including AncestorID.
type TreeEdge struct {
	UserID          uuid.UUID   `json:"user_id"`
	AncestorID      uuid.UUID   `json:"ancestor_id"`
	Level           int         `json:"level"`
	Path            []uuid.UUID `json:"path"`
	DirectSponsorID uuid.UUID   `json:"direct_sponsor_id"`
	CreatedAt       time.Time   `json:"created_at"`
}
