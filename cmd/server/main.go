// OpsLeuth — the production troubleshooting engine.
//
// This is the main entry point for the OpsLeuth investigation server.
// It provides:
//   - Troubleshooting intake (POST /troubleshoot)
//   - The investigation state machine with three specialist roles
//   - Quality gates, bounded retries, and the domain error taxonomy
//   - Session repository with TTL retention (in-memory, zero config)
//   - Prometheus metrics and OpenTelemetry tracing

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsleuth/opsleuth/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🔎 OpsLeuth investigation engine starting...")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Sessions.Close()
	defer srv.ShutdownFunc(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", srv.Port),
		Handler: srv.Handler,
		// Investigations run synchronously inside the request, so the
		// write timeout must exceed the investigation wall-clock budget.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: srv.Config.Budgets.InvestigationBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Msg("🔎 OpsLeuth is on the case")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
