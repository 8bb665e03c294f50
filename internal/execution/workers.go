// Package execution holds the River workers that run referral-core jobs.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/jobs"
	"github.com/bsknet/backend/internal/rebuild"
	"github.com/bsknet/backend/internal/tree"
)

type TreeBuilder interface {
	BuildFor(ctx context.Context, userID uuid.UUID, force bool) (tree.BuildResult, error)
	RefreshDownline(ctx context.Context, userID uuid.UUID) (int, error)
}

type Distributor interface {
	Distribute(ctx context.Context, ev commission.Event) (commission.Result, error)
}

type Rebuilder interface {
	RebuildAll(ctx context.Context, opts rebuild.Options) (rebuild.Report, error)
}

type BuildTreeWorker struct {
	river.WorkerDefaults[jobs.BuildTreeArgs]
	builder TreeBuilder
}

func NewBuildTreeWorker(b TreeBuilder) *BuildTreeWorker {
	return &BuildTreeWorker{builder: b}
}

func (w *BuildTreeWorker) Work(ctx context.Context, job *river.Job[jobs.BuildTreeArgs]) error {
	if _, err := w.builder.BuildFor(ctx, job.Args.UserID, job.Args.Force); err != nil {
		return err
	}
	if !job.Args.Downline {
		return nil
	}
	_, err := w.builder.RefreshDownline(ctx, job.Args.UserID)
	return err
}

type DistributeCommissionWorker struct {
	river.WorkerDefaults[jobs.DistributeCommissionArgs]
	engine Distributor
	log    *slog.Logger
}

func NewDistributeCommissionWorker(e Distributor, log *slog.Logger) *DistributeCommissionWorker {
	if log == nil {
		log = slog.Default()
	}
	return &DistributeCommissionWorker{engine: e, log: log}
}

// Work distributes the event. When some lines failed the job errors so River
// retries it; lines already paid are skipped on the next attempt.
func (w *DistributeCommissionWorker) Work(ctx context.Context, job *river.Job[jobs.DistributeCommissionArgs]) error {
	res, err := w.engine.Distribute(ctx, job.Args.Event())
	if err != nil {
		return fmt.Errorf("distribute %s/%s: %w", job.Args.EventType, job.Args.EventID, err)
	}
	if n := len(res.Failures); n > 0 {
		return fmt.Errorf("distribute %s/%s: %d commission lines failed", job.Args.EventType, job.Args.EventID, n)
	}
	return nil
}

func (w *DistributeCommissionWorker) Timeout(*river.Job[jobs.DistributeCommissionArgs]) time.Duration {
	return 2 * time.Minute
}

type RebuildAllWorker struct {
	river.WorkerDefaults[jobs.RebuildAllArgs]
	tool        Rebuilder
	concurrency int
	log         *slog.Logger
}

func NewRebuildAllWorker(tool Rebuilder, concurrency int, log *slog.Logger) *RebuildAllWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RebuildAllWorker{tool: tool, concurrency: concurrency, log: log}
}

// Work runs a full rebuild. Per-user errors are logged by the tool and do
// not fail the job.
func (w *RebuildAllWorker) Work(ctx context.Context, job *river.Job[jobs.RebuildAllArgs]) error {
	rep, err := w.tool.RebuildAll(ctx, rebuild.Options{
		Force:           job.Args.Force,
		IncludeUnlocked: job.Args.IncludeUnlocked,
		Concurrency:     w.concurrency,
	})
	if err != nil {
		return err
	}
	if len(rep.Errors) > 0 {
		w.log.Warn("rebuild finished with errors", "errors", len(rep.Errors), "processed", rep.Processed)
	}
	return nil
}

// Timeout disables River's default job timeout; a full rebuild is bounded by
// network size, not by a fixed deadline.
func (w *RebuildAllWorker) Timeout(*river.Job[jobs.RebuildAllArgs]) time.Duration {
	return -1
}
