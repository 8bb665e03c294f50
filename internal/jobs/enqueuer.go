// Package jobs defines the River job arguments of the referral core and the
// enqueuer services use to schedule them.
package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/bsknet/backend/internal/commission"
)

var ErrNotBound = errors.New("river insert not wired")

// InsertTxFunc enqueues args within tx. Provided by main using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

// InsertFunc enqueues args in its own transaction. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args river.JobArgs) error

// Enqueuer is created before the River client exists and bound to it later,
// since the workers depend on services that depend on the enqueuer.
type Enqueuer struct {
	mu       sync.Mutex
	insertTx InsertTxFunc
	insert   InsertFunc
}

func NewEnqueuer() *Enqueuer {
	return &Enqueuer{}
}

func (e *Enqueuer) Bind(insertTx InsertTxFunc, insert InsertFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insertTx = insertTx
	e.insert = insert
}

func (e *Enqueuer) funcs() (InsertTxFunc, InsertFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertTx, e.insert
}

// EnqueueTreeBuild schedules a tree build in the caller's transaction, so
// the job exists only if the sponsor lock commits. With downline set the job
// also rebuilds the users below userID.
func (e *Enqueuer) EnqueueTreeBuild(ctx context.Context, tx pgx.Tx, userID uuid.UUID, force, downline bool) error {
	insertTx, _ := e.funcs()
	if insertTx == nil {
		return ErrNotBound
	}
	return insertTx(ctx, tx, BuildTreeArgs{UserID: userID, Force: force, Downline: downline})
}

// EnqueueDistribution schedules commission distribution for ev. Producers call
// this instead of distributing inline so their own request never waits on or
// fails because of commission payments.
func (e *Enqueuer) EnqueueDistribution(ctx context.Context, ev commission.Event) error {
	_, insert := e.funcs()
	if insert == nil {
		return ErrNotBound
	}
	return insert(ctx, DistributeCommissionArgs{
		EventType:  ev.Type,
		EventID:    ev.ID,
		PayerID:    ev.PayerID,
		BaseAmount: ev.BaseAmount,
	})
}

func (e *Enqueuer) EnqueueRebuild(ctx context.Context, force, includeUnlocked bool) error {
	_, insert := e.funcs()
	if insert == nil {
		return ErrNotBound
	}
	return insert(ctx, RebuildAllArgs{Force: force, IncludeUnlocked: includeUnlocked})
}
