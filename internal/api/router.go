package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentforge/registry/internal/api/handlers"
	"github.com/agentforge/registry/internal/api/middleware"
	"github.com/agentforge/registry/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.CallerExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.CallerHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Registry root
		r.Route("/registry", func(r chi.Router) {
			r.Get("/", h.GetRegistry)
			r.Put("/owner", h.ChangeOwner)
			r.Put("/manager", h.ChangeManager)
			r.Put("/drainer", h.ChangeDrainer)
			r.Put("/base-uri", h.SetBaseURI)
		})

		// Services
		r.Route("/services", func(r chi.Router) {
			r.Post("/", h.CreateService)
			r.Route("/{serviceId}", func(r chi.Router) {
				r.Get("/", h.GetService)
				r.Put("/", h.UpdateService)

				r.Route("/roles", func(r chi.Router) {
					r.Get("/", h.GetRoles)
					r.Post("/", h.SetRoles)
					r.Put("/{agentId}", h.AddRole)
					r.Delete("/{agentId}", h.RemoveRole)
				})

				r.Post("/activate", h.ActivateRegistration)
				r.Route("/agents", func(r chi.Router) {
					r.Get("/", h.GetInstances)
					r.Post("/", h.RegisterAgents)
				})
				r.Post("/deploy", h.Deploy)
				r.Post("/terminate", h.Terminate)
				r.Post("/unbond", h.Unbond)
				r.Post("/slash", h.Slash)

				r.Get("/operators/{operator}/bond", h.GetOperatorBond)
			})
		})

		// Multisig whitelist
		r.Route("/multisigs", func(r chi.Router) {
			r.Get("/", h.ListMultisigs)
			r.Put("/{multisigId}/permission", h.SetMultisigPermission)
		})

		// Treasury
		r.Post("/drain", h.Drain)

		// Accounts (bootstrap faucet + balance reads)
		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Post("/fund", h.FundAccount)
			r.Get("/balance", h.GetBalance)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentforge-registry",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentforge-registry",
		})
	}
}
