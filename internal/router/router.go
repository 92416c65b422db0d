package router

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/config"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/handlers"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/services"
)

// Deps are the long-lived components the routes are served by.
type Deps struct {
	Engine      handlers.QueueEngine
	Records     handlers.QueueRecords
	Rules       handlers.RuleStore
	Hub         handlers.LiveHub
	Broadcaster handlers.Broadcaster
	Auth        *services.AuthService
	RateLimiter *middleware.RateLimiter
	// SentryEnabled attaches a Sentry hub to every request.
	SentryEnabled bool
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	if deps.SentryEnabled {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Handlers
	queueHandler := handlers.NewQueueHandler(deps.Engine, deps.Records)
	rulesHandler := handlers.NewRulesHandler(deps.Rules)
	sseHandler := handlers.NewSSEHandler(deps.Hub, deps.Broadcaster)

	requireAuth := middleware.AuthMiddleware(deps.Auth)

	r.Handle("/metrics", promhttp.Handler())

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Browser error reports
		r.Post("/monitoring", handlers.NewSentryTunnelHandler(cfg.SentryFrontendDSN).Tunnel)

		// Operator push to an event's live subscribers
		r.With(requireAuth, middleware.OperatorOnlyMiddleware).Post("/broadcast", sseHandler.Broadcast)

		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Route("/events/{eventCode}", func(r chi.Router) {
				// Attendee routes (no auth)
				r.With(deps.RateLimiter.Middleware).Post("/requests", queueHandler.Submit)
				r.Get("/queue", queueHandler.Snapshot)
				r.Get("/entries/{entryID}", queueHandler.Position)
				r.Get("/stream", sseHandler.Stream)

				// Operator routes
				r.Group(func(r chi.Router) {
					r.Use(requireAuth)
					r.Use(middleware.OrgScopeMiddleware)

					r.Get("/audit", queueHandler.Audit)

					r.Group(func(r chi.Router) {
						r.Use(middleware.OperatorOnlyMiddleware)
						r.Post("/advance", queueHandler.Advance)
						r.Post("/entries/{entryID}/skip", queueHandler.Skip)
						r.Post("/entries/{entryID}/cancel", queueHandler.Cancel)
						r.Post("/entries/{entryID}/prioritize", queueHandler.Prioritize)
						r.Post("/entries/{entryID}/complete", queueHandler.Complete)
						r.Put("/entries/{entryID}/video", queueHandler.AttachVideo)
					})
				})
			})

			// Admission rules and settings
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Use(middleware.OrgScopeMiddleware)

				r.Get("/blacklist", rulesHandler.ListBlacklist)
				r.Get("/pricing-rules", rulesHandler.ListPricingRules)
				r.Get("/duplicate-rule", rulesHandler.GetDuplicateRule)
				r.Get("/settings", rulesHandler.GetSettings)
				r.Get("/library", rulesHandler.ListLibrary)

				r.Group(func(r chi.Router) {
					r.Use(middleware.OperatorOnlyMiddleware)
					r.Post("/blacklist", rulesHandler.AddBlacklist)
					r.Delete("/blacklist/{id}", rulesHandler.DeleteBlacklist)
					r.Put("/pricing-rules", rulesHandler.UpsertPricingRule)
					r.Delete("/pricing-rules/{id}", rulesHandler.DeletePricingRule)
					r.Put("/duplicate-rule", rulesHandler.PutDuplicateRule)
					r.Put("/settings", rulesHandler.PutSettings)
					r.Post("/library", rulesHandler.AddLibrarySong)
					r.Delete("/library/{id}", rulesHandler.DeleteLibrarySong)
				})
			})
		})
	})

	return r
}
