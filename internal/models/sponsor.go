package models

import (
	"time"

	"github.com/google/uuid"
)

// Capture stages recorded on a sponsor link.
const (
	CaptureStageSignup     = "signup"
	CaptureStageOnboarding = "onboarding"
	CaptureStageManual     = "manual"
	CaptureStageAdmin      = "admin"
)

func ValidCaptureStage(stage string) bool {
	switch stage {
	case CaptureStageSignup, CaptureStageOnboarding, CaptureStageManual, CaptureStageAdmin:
		return true
	}
	return false
}

// SponsorLink is the single-parent relation of a user. SponsorID and LockedAt
// never change once LockedAt is set.
type SponsorLink struct {
	UserID          uuid.UUID  `json:"user_id"`
	SponsorID       *uuid.UUID `json:"sponsor_id,omitempty"`
	LockedAt        *time.Time `json:"locked_at,omitempty"`
	SponsorCodeUsed string     `json:"sponsor_code_used"`
	CaptureStage    string     `json:"capture_stage"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Locked reports whether the link has been permanently locked.
func (l *SponsorLink) Locked() bool {
	return l != nil && l.LockedAt != nil
}
