package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bsknet/backend/internal/app"
	"github.com/bsknet/backend/internal/config"
	"github.com/bsknet/backend/internal/db"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "mlmctl",
	Short:        "Operator tools for the BSK referral core",
	SilenceUsage: true,
}

// Execute runs the root command; ctx is cancelled on interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(userCmd)
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp connects to the database, builds the services with an
// insert-only River client and runs fn. The pool is closed afterwards.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	a := app.New(cfg, pool, logger)
	if err := a.NewInsertOnlyRiver(); err != nil {
		return err
	}
	return fn(a)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
