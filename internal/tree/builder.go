// Package tree materializes each user's sponsor chain into referral_tree rows
// so commission distribution can read ancestors without walking links.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bsknet/backend/internal/metrics"
	"github.com/bsknet/backend/internal/models"
)

var ErrTreeBuildFailed = errors.New("referral tree build failed")

type Store interface {
	GetLink(ctx context.Context, userID uuid.UUID) (*models.SponsorLink, error)
	HasEdges(ctx context.Context, userID uuid.UUID) (bool, error)
	// ReplaceEdges deletes every edge of userID and inserts edges in one batch.
	ReplaceEdges(ctx context.Context, tx pgx.Tx, userID uuid.UUID, edges []models.TreeEdge) error
	ListAncestors(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error)
	// ListDescendants returns users with userID as a materialized ancestor or
	// as their direct sponsor.
	ListDescendants(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Policy controls how far and through which links a walk may go.
type Policy struct {
	MaxDepth int
	// StrictLocked stops the walk at the first link that is not locked yet.
	StrictLocked bool
}

func (p Policy) depth() int {
	if p.MaxDepth <= 0 || p.MaxDepth > models.MaxReferralDepth {
		return models.MaxReferralDepth
	}
	return p.MaxDepth
}

type BuildResult struct {
	LevelsBuilt int  `json:"levels_built"`
	Skipped     bool `json:"skipped"`
}

type Builder struct {
	pool   TxBeginner
	repo   Store
	policy Policy
	log    *slog.Logger

	// retries bounds attempts per user for transient store errors.
	retries uint64
}

func NewBuilder(pool TxBeginner, repo Store, policy Policy, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{pool: pool, repo: repo, policy: policy, log: log, retries: 3}
}

// Walk follows sponsor pointers upward from userID and returns the ancestor
// edges, closest first. It stops at a root, at the depth cap, at an unlocked
// link in strict mode, or at the first id already seen on the path.
func (b *Builder) Walk(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error) {
	maxDepth := b.policy.depth()
	path := []uuid.UUID{userID}
	seen := map[uuid.UUID]bool{userID: true}
	var edges []models.TreeEdge
	var direct uuid.UUID

	cur := userID
	for level := 1; level <= maxDepth; level++ {
		link, err := b.repo.GetLink(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("get sponsor link for %s: %w", cur, err)
		}
		if link == nil || link.SponsorID == nil {
			break
		}
		if b.policy.StrictLocked && !link.Locked() {
			break
		}
		next := *link.SponsorID
		if seen[next] {
			b.log.Warn("sponsor cycle truncated", "user_id", userID, "repeated_id", next, "level", level)
			break
		}
		seen[next] = true
		if level == 1 {
			direct = next
		}
		path = append(path, next)
		edges = append(edges, models.TreeEdge{
			UserID:          userID,
			AncestorID:      next,
			Level:           level,
			Path:            append([]uuid.UUID(nil), path...),
			DirectSponsorID: direct,
		})
		cur = next
	}
	return edges, nil
}

// BuildFor materializes userID's ancestors. Without force, a user that already
// has edges is skipped. With force, existing edges are replaced atomically.
func (b *Builder) BuildFor(ctx context.Context, userID uuid.UUID, force bool) (BuildResult, error) {
	if !force {
		exists, err := b.repo.HasEdges(ctx, userID)
		if err != nil {
			metrics.TreeBuilds.WithLabelValues("error").Inc()
			return BuildResult{}, fmt.Errorf("%w: user %s: %v", ErrTreeBuildFailed, userID, err)
		}
		if exists {
			metrics.TreeBuilds.WithLabelValues("skipped").Inc()
			return BuildResult{Skipped: true}, nil
		}
	}

	var built int
	op := func() error {
		edges, err := b.Walk(ctx, userID)
		if err != nil {
			return err
		}
		tx, err := b.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		if err := b.repo.ReplaceEdges(ctx, tx, userID, edges); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		built = len(edges)
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	notify := func(err error, wait time.Duration) {
		b.log.Warn("retrying tree build", "user_id", userID, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, b.retries), ctx), notify); err != nil {
		metrics.TreeBuilds.WithLabelValues("error").Inc()
		return BuildResult{}, fmt.Errorf("%w: user %s: %v", ErrTreeBuildFailed, userID, err)
	}
	metrics.TreeBuilds.WithLabelValues("built").Inc()
	metrics.TreeDepth.Observe(float64(built))
	return BuildResult{LevelsBuilt: built}, nil
}

// RefreshDownline force-builds every user below userID. Walks read live
// links, so the order of rebuilds does not matter. It keeps going past a
// failed user and returns the joined errors with the count rebuilt.
func (b *Builder) RefreshDownline(ctx context.Context, userID uuid.UUID) (int, error) {
	users, err := b.repo.ListDescendants(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list downline of %s: %w", userID, err)
	}
	var (
		built int
		errs  []error
	)
	for _, u := range users {
		if u == userID {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := b.BuildFor(ctx, u, true); err != nil {
			errs = append(errs, err)
			continue
		}
		built++
	}
	if len(errs) > 0 {
		b.log.Warn("downline refresh incomplete", "user_id", userID, "rebuilt", built, "failed", len(errs))
	}
	return built, errors.Join(errs...)
}

// Ancestors returns the materialized edges of userID ordered by level.
func (b *Builder) Ancestors(ctx context.Context, userID uuid.UUID) ([]models.TreeEdge, error) {
	return b.repo.ListAncestors(ctx, userID)
}
