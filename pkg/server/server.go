// Package server provides the public entry point for initializing the
// AgentForge registry server.
//
// It lives in pkg/ (not internal/) so downstream deployments can compose
// the handler with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agentforge/registry/internal/api"
	"github.com/agentforge/registry/internal/api/handlers"
	"github.com/agentforge/registry/internal/config"
	"github.com/agentforge/registry/internal/registry"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/internal/telemetry"
	"github.com/agentforge/registry/pkg/models"
)

// Server holds the initialized registry server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry is the registry core, exposed for embedding and tests.
	Registry *registry.Registry

	// Store is the account substrate; Close flushes the final snapshot.
	Store *state.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the registry server from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the registry server with an explicit
// configuration: telemetry, the account store, the registry core, genesis
// funding, and the HTTP router.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var store *state.Store
	if cfg.Snapshot.Dir != "" {
		store, err = state.Open(cfg.Snapshot.Dir)
		if err != nil {
			return nil, fmt.Errorf("open account store: %w", err)
		}
	} else {
		store = state.NewStore()
		log.Info().Msg("in-memory account store initialized")
	}

	owner, err := models.ParseAccountID(cfg.Registry.Owner)
	if err != nil {
		return nil, fmt.Errorf("registry owner: %w", err)
	}
	manager, err := models.ParseAccountID(cfg.Registry.Manager)
	if err != nil {
		return nil, fmt.Errorf("registry manager: %w", err)
	}
	drainer, err := models.ParseAccountID(cfg.Registry.Drainer)
	if err != nil {
		return nil, fmt.Errorf("registry drainer: %w", err)
	}

	reg, err := registry.New(store, registry.Config{
		Name:    cfg.Registry.Name,
		Symbol:  cfg.Registry.Symbol,
		BaseURI: cfg.Registry.BaseURI,
		Owner:   owner,
		Manager: manager,
		Drainer: drainer,
	})
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	if !reg.Initialized() {
		seedGenesis(reg, cfg.Registry.GenesisBalance, owner, manager, drainer)
		if err := reg.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize registry: %w", err)
		}
		log.Info().Str("name", cfg.Registry.Name).Msg("registry initialized")
	}

	h := handlers.New(reg, cfg.Version)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Registry:     reg,
		Store:        store,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// seedGenesis credits the privileged accounts so they can pay record rent
// on a fresh store. Runs only before first initialization.
func seedGenesis(reg *registry.Registry, amount uint64, accounts ...models.AccountID) {
	if amount == 0 {
		return
	}
	for _, id := range accounts {
		if reg.Balance(id) > 0 {
			continue
		}
		if err := reg.Fund(id, amount); err != nil {
			log.Warn().Err(err).Str("account", id.String()).Msg("genesis funding failed")
		}
	}
}
