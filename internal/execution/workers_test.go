package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/jobs"
	"github.com/bsknet/backend/internal/rebuild"
	"github.com/bsknet/backend/internal/tree"
)

type fakeBuilder struct {
	user       uuid.UUID
	force      bool
	err        error
	downlineOf []uuid.UUID
	refreshErr error
}

func (f *fakeBuilder) BuildFor(_ context.Context, userID uuid.UUID, force bool) (tree.BuildResult, error) {
	f.user, f.force = userID, force
	return tree.BuildResult{LevelsBuilt: 1}, f.err
}

func (f *fakeBuilder) RefreshDownline(_ context.Context, userID uuid.UUID) (int, error) {
	f.downlineOf = append(f.downlineOf, userID)
	return 1, f.refreshErr
}

type fakeEngine struct {
	got commission.Event
	res commission.Result
	err error
}

func (f *fakeEngine) Distribute(_ context.Context, ev commission.Event) (commission.Result, error) {
	f.got = ev
	return f.res, f.err
}

type fakeRebuilder struct {
	opts rebuild.Options
	rep  rebuild.Report
	err  error
}

func (f *fakeRebuilder) RebuildAll(_ context.Context, opts rebuild.Options) (rebuild.Report, error) {
	f.opts = opts
	return f.rep, f.err
}

func TestBuildTreeWorker(t *testing.T) {
	b := &fakeBuilder{}
	user := uuid.New()
	err := NewBuildTreeWorker(b).Work(context.Background(), &river.Job[jobs.BuildTreeArgs]{Args: jobs.BuildTreeArgs{UserID: user, Force: true}})
	require.NoError(t, err)
	assert.Equal(t, user, b.user)
	assert.True(t, b.force)
	assert.Empty(t, b.downlineOf)

	b.err = tree.ErrTreeBuildFailed
	err = NewBuildTreeWorker(b).Work(context.Background(), &river.Job[jobs.BuildTreeArgs]{Args: jobs.BuildTreeArgs{UserID: user}})
	assert.ErrorIs(t, err, tree.ErrTreeBuildFailed)
}

func TestBuildTreeWorker_Downline(t *testing.T) {
	b := &fakeBuilder{}
	user := uuid.New()
	job := &river.Job[jobs.BuildTreeArgs]{Args: jobs.BuildTreeArgs{UserID: user, Force: true, Downline: true}}
	require.NoError(t, NewBuildTreeWorker(b).Work(context.Background(), job))
	assert.Equal(t, []uuid.UUID{user}, b.downlineOf)

	b.refreshErr = tree.ErrTreeBuildFailed
	assert.ErrorIs(t, NewBuildTreeWorker(b).Work(context.Background(), job), tree.ErrTreeBuildFailed)

	// The user's own build failing skips the downline.
	b.downlineOf, b.refreshErr = nil, nil
	b.err = errors.New("db down")
	assert.Error(t, NewBuildTreeWorker(b).Work(context.Background(), job))
	assert.Empty(t, b.downlineOf)
}

func TestDistributeCommissionWorker(t *testing.T) {
	payer := uuid.New()
	args := jobs.DistributeCommissionArgs{EventType: "signup", EventID: "e-1", PayerID: payer, BaseAmount: decimal.NewFromInt(40)}
	job := &river.Job[jobs.DistributeCommissionArgs]{Args: args}

	eng := &fakeEngine{res: commission.Result{PaidLevels: 2}}
	require.NoError(t, NewDistributeCommissionWorker(eng, nil).Work(context.Background(), job))
	assert.Equal(t, payer, eng.got.PayerID)
	assert.True(t, eng.got.BaseAmount.Equal(decimal.NewFromInt(40)))

	eng.res.Failures = []commission.LineFailure{{EarnerID: uuid.New(), Level: 3}}
	assert.Error(t, NewDistributeCommissionWorker(eng, nil).Work(context.Background(), job))

	eng.res.Failures = nil
	eng.err = errors.New("db down")
	assert.Error(t, NewDistributeCommissionWorker(eng, nil).Work(context.Background(), job))
}

func TestRebuildAllWorker(t *testing.T) {
	r := &fakeRebuilder{rep: rebuild.Report{Processed: 3, Errors: []rebuild.UserError{{UserID: uuid.New(), Error: "x"}}}}
	w := NewRebuildAllWorker(r, 6, nil)

	err := w.Work(context.Background(), &river.Job[jobs.RebuildAllArgs]{Args: jobs.RebuildAllArgs{Force: true}})
	require.NoError(t, err)
	assert.Equal(t, rebuild.Options{Force: true, Concurrency: 6}, r.opts)

	r.err = context.Canceled
	assert.ErrorIs(t, w.Work(context.Background(), &river.Job[jobs.RebuildAllArgs]{}), context.Canceled)
}
