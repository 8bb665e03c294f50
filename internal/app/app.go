// Package app wires repositories, services and River together. Both the API
// server and mlmctl build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/bsknet/backend/internal/auth"
	"github.com/bsknet/backend/internal/badge"
	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/config"
	"github.com/bsknet/backend/internal/execution"
	"github.com/bsknet/backend/internal/handlers"
	"github.com/bsknet/backend/internal/jobs"
	"github.com/bsknet/backend/internal/ledger"
	"github.com/bsknet/backend/internal/rebuild"
	"github.com/bsknet/backend/internal/repository"
	"github.com/bsknet/backend/internal/rewards"
	"github.com/bsknet/backend/internal/sponsor"
	"github.com/bsknet/backend/internal/tree"
)

type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Logger *slog.Logger

	Users      *repository.UserRepo
	Enqueuer   *jobs.Enqueuer
	Sponsors   *sponsor.Service
	Trees      *tree.Builder
	Badges     *badge.Resolver
	Rewards    *rewards.Service
	Ledger     *ledger.Service
	Commission *commission.Engine
	Rebuild    *rebuild.Tool
	Auth       *auth.Service

	River *river.Client[pgx.Tx]
}

// New builds every service over pool. The enqueuer stays unbound until
// StartRiver or NewInsertOnlyRiver runs.
func New(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *App {
	users := repository.NewUserRepo(pool)
	sponsorRepo := repository.NewSponsorRepo(pool)
	treeRepo := repository.NewTreeRepo(pool)

	a := &App{Config: cfg, Pool: pool, Logger: logger, Users: users, Enqueuer: jobs.NewEnqueuer()}

	resolver := sponsor.NewResolver(users, cfg.ReferralCacheSize, cfg.ReferralCacheTTL)
	a.Sponsors = sponsor.NewService(pool, sponsorRepo, resolver, a.Enqueuer, logger)
	a.Trees = tree.NewBuilder(pool, treeRepo, tree.Policy{MaxDepth: cfg.TreeMaxDepth, StrictLocked: cfg.TreeStrictLocked}, logger)
	a.Badges = badge.NewResolver(repository.NewBadgeRepo(pool), cfg.BadgeDefaultUnlockLevels)
	a.Rewards = rewards.NewService(repository.NewRewardRepo(pool), rewards.DirectPolicy{
		Percent:     cfg.DirectPercent,
		BalanceType: cfg.DirectBalanceType,
	})
	a.Ledger = ledger.NewService(pool, ledger.NewRepository(pool), logger)
	a.Commission = commission.NewEngine(pool, repository.NewCommissionRepo(pool), a.Trees, a.Badges, a.Rewards, a.Ledger, logger)
	a.Rebuild = rebuild.NewTool(sponsorRepo, a.Trees, logger)
	a.Auth = auth.NewService(cfg.JWTSecret)
	return a
}

// Handler returns the HTTP handler set over the app's services.
func (a *App) Handler() (*handlers.Handler, error) {
	v, err := handlers.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("schema validator: %w", err)
	}
	return &handlers.Handler{
		Sponsors:    a.Sponsors,
		Trees:       a.Trees,
		Commissions: a.Commission,
		Queue:       a.Enqueuer,
		Ledger:      a.Ledger,
		Badges:      a.Badges,
		Rewards:     a.Rewards,
		Rebuild:     a.Rebuild,
		Validator:   v,
		Logger:      a.Logger,
	}, nil
}

func (a *App) workers() *river.Workers {
	w := river.NewWorkers()
	river.AddWorker(w, execution.NewBuildTreeWorker(a.Trees))
	river.AddWorker(w, execution.NewDistributeCommissionWorker(a.Commission, a.Logger))
	river.AddWorker(w, execution.NewRebuildAllWorker(a.Rebuild, a.Config.RebuildConcurrency, a.Logger))
	return w
}

func (a *App) periodicJobs() []*river.PeriodicJob {
	if a.Config.RebuildPeriodicInterval <= 0 {
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(a.Config.RebuildPeriodicInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.PeriodicRebuildArgs(), nil
			},
			nil,
		),
	}
}

// NewWorkingRiver creates a River client that processes the referral queues
// and binds the enqueuer to it. The caller starts and stops it.
func (a *App) NewWorkingRiver() error {
	maxWorkers := a.Config.RiverWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	client, err := river.NewClient(riverpgxv5.New(a.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault:   {MaxWorkers: maxWorkers},
			jobs.QueueCommission: {MaxWorkers: maxWorkers},
		},
		Workers:      a.workers(),
		PeriodicJobs: a.periodicJobs(),
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	a.bind(client)
	return nil
}

// NewInsertOnlyRiver creates a River client that can enqueue but never works
// jobs, for one-shot commands.
func (a *App) NewInsertOnlyRiver() error {
	client, err := river.NewClient(riverpgxv5.New(a.Pool), &river.Config{Logger: a.Logger})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	a.bind(client)
	return nil
}

func (a *App) bind(client *river.Client[pgx.Tx]) {
	a.River = client
	a.Enqueuer.Bind(
		func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
			_, err := client.InsertTx(ctx, tx, args, nil)
			return err
		},
		func(ctx context.Context, args river.JobArgs) error {
			_, err := client.Insert(ctx, args, nil)
			return err
		},
	)
}
