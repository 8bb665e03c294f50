package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/bsknet/backend/internal/app"
	"github.com/bsknet/backend/internal/config"
	"github.com/bsknet/backend/internal/db"
	"github.com/bsknet/backend/internal/router"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}

	a := app.New(cfg, pool, logger)
	if err := a.NewWorkingRiver(); err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	h, err := a.Handler()
	if err != nil {
		slog.Error("Failed to build handlers", "error", err)
		os.Exit(1)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router.New(h, a.Auth))

	if err := a.River.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := a.River.Stop(shutdownCtx); err != nil {
		slog.Error("River stop", "error", err)
	}
}
