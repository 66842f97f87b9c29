// Package server provides the public entry point for initializing the
// OpsLeuth investigation engine.
//
// This package exists in pkg/ (not internal/) so that deployment
// wrappers can import it and compose the full server with their own
// middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/opsleuth/opsleuth/internal/analytics"
	"github.com/opsleuth/opsleuth/internal/api"
	"github.com/opsleuth/opsleuth/internal/api/handlers"
	"github.com/opsleuth/opsleuth/internal/artifact"
	"github.com/opsleuth/opsleuth/internal/config"
	"github.com/opsleuth/opsleuth/internal/orchestrator"
	"github.com/opsleuth/opsleuth/internal/plan"
	"github.com/opsleuth/opsleuth/internal/store"
	"github.com/opsleuth/opsleuth/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized OpsLeuth investigation engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Sessions is the session repository (in-memory by default).
	Sessions store.SessionRepository

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from the environment and returns a
// ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	sessions := store.NewMemoryStore(cfg.Session.TTL, cfg.Session.SweepInterval)
	log.Info().Msg("✅ In-memory session store initialized")

	planner := plan.New(cfg.Endpoints.PlannerURL, 0)
	artifacts := artifact.NewStore(cfg.Endpoints.ArtifactURL, 0)
	sink := analytics.NewSink(cfg.Endpoints.AnalyticsURL)
	engine := orchestrator.NewEngine(sessions, planner, artifacts, sink, cfg)

	log.Info().Msg("✅ Planner client initialized")
	log.Info().Msg("✅ Artifact store client initialized")
	log.Info().Msg("✅ Orchestration engine initialized")

	h := handlers.New(sessions, engine)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Sessions:     sessions,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
