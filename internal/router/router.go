// Package router mounts the referral core API on chi.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bsknet/backend/internal/auth"
	"github.com/bsknet/backend/internal/handlers"
	"github.com/bsknet/backend/internal/middleware"
)

const requestTimeout = 60 * time.Second

// New returns the service's http.Handler. Everything under /v1 needs a bearer
// token; /v1/admin additionally needs the admin role.
func New(h *handlers.Handler, tokens middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Use(middleware.BearerAuth(tokens))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleService))

			r.Post("/sponsor/lock", h.LockSponsor)
			r.Post("/sponsor/capture", h.CaptureSponsor)
			r.Get("/sponsor/{userID}", h.GetSponsor)
			r.Get("/sponsor/{userID}/referrals", h.ListReferrals)

			r.Post("/tree/{userID}/build", h.BuildTree)
			r.Get("/tree/{userID}/ancestors", h.GetAncestors)

			r.Post("/commission/distribute", h.Distribute)
			r.Get("/commission/records", h.ListRecords)

			r.Post("/ledger/apply", h.ApplyLedger)
			r.Get("/ledger/{userID}/balances", h.GetBalances)
			r.Get("/ledger/{userID}/entries", h.ListEntries)

			r.Get("/badges/{userID}", h.GetBadge)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))

			r.Post("/rebuild", h.RebuildAll)
			r.Get("/level-rewards", h.ListLevelRewards)
			r.Put("/level-rewards/{level}", h.PutLevelReward)
			r.Post("/commission/backfill", h.Backfill)
			r.Get("/ledger/{userID}/reconcile", h.Reconcile)
			r.Put("/badges/{userID}", h.PutBadge)
		})
	})
	return r
}
