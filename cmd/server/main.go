package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consentledger/internal/platform/config"
	"consentledger/internal/platform/logger"
	httptransport "consentledger/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies, serves the router and shuts down on SIGINT/SIGTERM.
// Business logic lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.close()

	log.Info("initializing consentledger",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"store", cfg.Consent.Store,
		"ledger", cfg.Ledger.Mode,
		"signers", len(app.signers),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httptransport.NewRouter(app.routerDeps(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
		// writes may wait out a full confirmation poll
		WriteTimeout: cfg.Timeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
			app.close()
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
