// Package rebuild re-derives the referral tree of the whole network.
package rebuild

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bsknet/backend/internal/metrics"
	"github.com/bsknet/backend/internal/tree"
)

// Source pages through sponsor link owners in user_id order.
type Source interface {
	ListLinkUserIDs(ctx context.Context, after uuid.UUID, limit int, includeUnlocked bool) ([]uuid.UUID, error)
}

type TreeBuilder interface {
	BuildFor(ctx context.Context, userID uuid.UUID, force bool) (tree.BuildResult, error)
}

type Options struct {
	Force           bool `json:"force"`
	IncludeUnlocked bool `json:"include_unlocked"`
	Concurrency     int  `json:"concurrency"`
	PageSize        int  `json:"page_size"`
}

type UserError struct {
	UserID uuid.UUID `json:"user_id"`
	Error  string    `json:"error"`
}

// Report summarizes a run. Inserted counts materialized edge rows.
type Report struct {
	Processed int           `json:"processed"`
	Inserted  int           `json:"inserted"`
	Skipped   int           `json:"skipped"`
	Errors    []UserError   `json:"errors"`
	Duration  time.Duration `json:"duration_ns"`
}

type Tool struct {
	src     Source
	builder TreeBuilder
	log     *slog.Logger
}

func NewTool(src Source, builder TreeBuilder, log *slog.Logger) *Tool {
	if log == nil {
		log = slog.Default()
	}
	return &Tool{src: src, builder: builder, log: log}
}

// RebuildAll builds every user's tree. Per-user failures are collected in the
// report and never stop the run; only a failure to list users or a cancelled
// context ends it early, with the partial report.
func (t *Tool) RebuildAll(ctx context.Context, opts Options) (Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	start := time.Now()
	rep := Report{Errors: []UserError{}}
	var mu sync.Mutex

	t.log.Info("rebuild started", "force", opts.Force, "include_unlocked", opts.IncludeUnlocked, "concurrency", opts.Concurrency)
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		page, err := t.src.ListLinkUserIDs(ctx, after, opts.PageSize, opts.IncludeUnlocked)
		if err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		if len(page) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for _, userID := range page {
			g.Go(func() error {
				res, err := t.builder.BuildFor(ctx, userID, opts.Force)
				mu.Lock()
				defer mu.Unlock()
				rep.Processed++
				switch {
				case err != nil:
					t.log.Error("tree rebuild failed", "user_id", userID, "error", err)
					rep.Errors = append(rep.Errors, UserError{UserID: userID, Error: err.Error()})
				case res.Skipped:
					rep.Skipped++
				default:
					rep.Inserted += res.LevelsBuilt
				}
				return nil
			})
		}
		_ = g.Wait()

		after = page[len(page)-1]
		if len(page) < opts.PageSize {
			break
		}
	}
	rep.Duration = time.Since(start)
	metrics.RebuildDuration.Observe(rep.Duration.Seconds())
	t.log.Info("rebuild finished", "processed", rep.Processed, "inserted", rep.Inserted, "skipped", rep.Skipped, "errors", len(rep.Errors), "duration", rep.Duration)
	return rep, nil
}
