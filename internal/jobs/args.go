package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/shopspring/decimal"

	"github.com/bsknet/backend/internal/commission"
)

const QueueCommission = "commission"

// inFlightStates dedupes a job only while an identical one is pending, so the
// same build or rebuild can run again once the previous run finished.
var inFlightStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// BuildTreeArgs rebuilds one user's ancestor edges. Downline also rebuilds
// every user whose chain passes through UserID.
type BuildTreeArgs struct {
	UserID   uuid.UUID `json:"user_id"`
	Force    bool      `json:"force"`
	Downline bool      `json:"downline"`
}

func (BuildTreeArgs) Kind() string { return "build_referral_tree" }

func (BuildTreeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByState: inFlightStates},
	}
}

type DistributeCommissionArgs struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	PayerID    uuid.UUID       `json:"payer_id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

func (DistributeCommissionArgs) Kind() string { return "distribute_commission" }

// Distribution stays unique through completion: an event is queued once.
func (DistributeCommissionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueCommission,
		MaxAttempts: 12,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

func (a DistributeCommissionArgs) Event() commission.Event {
	return commission.Event{Type: a.EventType, ID: a.EventID, PayerID: a.PayerID, BaseAmount: a.BaseAmount}
}

type RebuildAllArgs struct {
	Force           bool `json:"force"`
	IncludeUnlocked bool `json:"include_unlocked"`
}

// PeriodicRebuildArgs is the scheduled full rebuild. It forces every user so
// chains that grew after an earlier build are rewritten.
func PeriodicRebuildArgs() RebuildAllArgs {
	return RebuildAllArgs{Force: true}
}

func (RebuildAllArgs) Kind() string { return "rebuild_referral_tree_all" }

func (RebuildAllArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByState: inFlightStates},
	}
}
