package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bsknet/backend/internal/app"
	"github.com/bsknet/backend/internal/auth"
	"github.com/bsknet/backend/internal/commission"
	"github.com/bsknet/backend/internal/db"
	"github.com/bsknet/backend/internal/models"
	"github.com/bsknet/backend/internal/rebuild"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply River and referral schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		pool, err := db.Connect(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return db.Migrate(cmd.Context(), pool, logger)
	},
}

var rebuildOpts struct {
	rebuild.Options
	async bool
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the referral tree for every sponsor link",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if rebuildOpts.async {
				if err := a.Enqueuer.EnqueueRebuild(cmd.Context(), rebuildOpts.Force, rebuildOpts.IncludeUnlocked); err != nil {
					return err
				}
				fmt.Println("rebuild queued")
				return nil
			}
			rep, err := a.Rebuild.RebuildAll(cmd.Context(), rebuildOpts.Options)
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var buildForce bool

var buildCmd = &cobra.Command{
	Use:   "build <user-id>",
	Short: "Materialize one user's ancestor levels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Trees.BuildFor(cmd.Context(), userID, buildForce)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var distributeOpts struct {
	eventType string
	eventID   string
	payer     string
	base      string
	async     bool
}

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Pay commissions for one value event",
	RunE: func(cmd *cobra.Command, _ []string) error {
		payer, err := uuid.Parse(distributeOpts.payer)
		if err != nil {
			return fmt.Errorf("payer: %w", err)
		}
		base, err := decimal.NewFromString(distributeOpts.base)
		if err != nil {
			return fmt.Errorf("base: %w", err)
		}
		ev := commission.Event{Type: distributeOpts.eventType, ID: distributeOpts.eventID, PayerID: payer, BaseAmount: base}
		return withApp(cmd.Context(), func(a *app.App) error {
			if distributeOpts.async {
				if err := a.Enqueuer.EnqueueDistribution(cmd.Context(), ev); err != nil {
					return err
				}
				fmt.Println("distribution queued")
				return nil
			}
			res, err := a.Commission.Distribute(cmd.Context(), ev)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var backfillOpts struct {
	since time.Duration
	limit int
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <earner-id>",
	Short: "Pay an earner for past events on levels they have since unlocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		earner, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("earner id: %w", err)
		}
		var since time.Time
		if backfillOpts.since > 0 {
			since = time.Now().Add(-backfillOpts.since)
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Commission.Backfill(cmd.Context(), earner, since, backfillOpts.limit)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var reconcileBalanceType string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <user-id>",
	Short: "Compare a balance projection with the sum of its ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			rep, err := a.Ledger.Reconcile(cmd.Context(), userID, reconcileBalanceType)
			if err != nil {
				return err
			}
			if err := printJSON(rep); err != nil {
				return err
			}
			if !rep.Consistent {
				return fmt.Errorf("balance %s for %s is inconsistent", rep.BalanceType, rep.UserID)
			}
			return nil
		})
	},
}

var tokenOpts struct {
	subject string
	role    string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a producer or operator",
	RunE: func(_ *cobra.Command, _ []string) error {
		if tokenOpts.role != auth.RoleService && tokenOpts.role != auth.RoleAdmin {
			return fmt.Errorf("role must be %q or %q", auth.RoleService, auth.RoleAdmin)
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		tok, err := auth.NewService(cfg.JWTSecret).Issue(tokenOpts.subject, tokenOpts.role, tokenOpts.ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user-add <user-id> <referral-code>",
	Short: "Register a user and referral code known to the referral core",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			return a.Users.Create(cmd.Context(), userID, args[1])
		})
	},
}

func init() {
	rf := rebuildCmd.Flags()
	rf.BoolVar(&rebuildOpts.Force, "force", false, "rewrite users that already have edges")
	rf.BoolVar(&rebuildOpts.IncludeUnlocked, "include-unlocked", false, "also walk captured but unlocked links")
	rf.IntVar(&rebuildOpts.Concurrency, "concurrency", 4, "users built in parallel")
	rf.IntVar(&rebuildOpts.PageSize, "page-size", 500, "user ids fetched per page")
	rf.BoolVar(&rebuildOpts.async, "async", false, "queue the rebuild on River instead of running it here")

	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild even if edges exist")

	df := distributeCmd.Flags()
	df.StringVar(&distributeOpts.eventType, "event-type", "", "value event type")
	df.StringVar(&distributeOpts.eventID, "event-id", "", "producer's event id")
	df.StringVar(&distributeOpts.payer, "payer", "", "user id that generated the event")
	df.StringVar(&distributeOpts.base, "base", "0", "base amount for percent rewards")
	df.BoolVar(&distributeOpts.async, "async", false, "queue on River instead of paying here")
	_ = distributeCmd.MarkFlagRequired("event-type")
	_ = distributeCmd.MarkFlagRequired("event-id")
	_ = distributeCmd.MarkFlagRequired("payer")

	backfillCmd.Flags().DurationVar(&backfillOpts.since, "since", 0, "only events newer than this, e.g. 720h")
	backfillCmd.Flags().IntVar(&backfillOpts.limit, "limit", 1000, "maximum events scanned")

	reconcileCmd.Flags().StringVar(&reconcileBalanceType, "balance-type", models.BalanceWithdrawable, "balance bucket to check")

	tokenCmd.Flags().StringVar(&tokenOpts.subject, "subject", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenOpts.role, "role", auth.RoleService, "service or admin")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}
