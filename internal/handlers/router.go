package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	mw "github.com/creditforge/backend/internal/middleware"
	"github.com/creditforge/backend/internal/services"
)

// Deps are the services the HTTP surface translates requests into.
type Deps struct {
	Identity   *services.IdentityResolver
	Accounts   *services.AccountService
	Ledger     *services.CreditLedger
	Generation *services.GenerationService
	Stats      *services.AggregationService
	History    *services.HistoryService
	Audit      *services.AuditService
	Gatherer   prometheus.Gatherer
	Logger     logrus.FieldLogger
	// RequestTimeout bounds how long a synchronous generation waits.
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 60 * time.Second
	}

	authHandler := NewAuthHandler(d.Accounts, d.Logger)
	creditsHandler := NewCreditsHandler(d.Ledger, d.Stats, d.Audit, d.Logger)
	generationHandler := NewGenerationHandler(d.Generation, d.Logger)
	contentHandler := NewContentHandler(d.History, d.Stats, d.Logger)
	adminHandler := NewAdminHandler(d.Accounts, d.Ledger, d.Audit, d.Logger)

	r := chi.NewRouter()

	r.Use(mw.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))

		// Public endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(d.Identity, d.Logger))

			r.Get("/auth/account", authHandler.Account)

			r.Get("/credits/balance", creditsHandler.Balance)
			r.Get("/credits/transactions", creditsHandler.Transactions)

			r.Get("/generations/quote", generationHandler.Quote)
			r.Post("/generations", generationHandler.Generate)
			r.Post("/generations/async", generationHandler.Submit)
			r.Get("/generations/{jobId}", generationHandler.Job)

			r.Get("/content", contentHandler.List)
			r.Patch("/content/{itemId}", contentHandler.Update)

			r.Get("/dashboard/stats", contentHandler.Stats)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireAdmin)

				r.Post("/credits/top-up", creditsHandler.TopUp)
				r.Get("/admin/audit", adminHandler.Audit)
				r.Post("/admin/accounts/{accountId}/deactivate", adminHandler.Deactivate)
				r.Get("/admin/accounts/{accountId}/balance-check", adminHandler.VerifyBalance)
			})
		})
	})

	return r
}
