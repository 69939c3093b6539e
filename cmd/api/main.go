// Package main is the entry point for the Faberland rental API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the rental
// lifecycle service with the static price table and the Stripe client, builds
// the HTTP server with the core chassis (middleware, routing, health checks),
// and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faberland/internal/api/handlers"
	"faberland/internal/config"
	"faberland/internal/core"
	"faberland/internal/db"
	"faberland/internal/external"
	"faberland/internal/pricing"
	"faberland/internal/rental"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("faberland API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	// Connect the database pool; startup fails fast on a bad URL.
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(startupCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Domain wiring: repository -> lifecycle service.
	plotRepo := db.NewPlotRepository(pool, logger)
	priceTable := pricing.NewStaticPriceTable()
	rentalSvc := rental.NewService(plotRepo, priceTable, logger)

	stripeClient := external.NewStripeClient(&http.Client{Timeout: 20 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})

	// Build the server chassis.
	srv, err := core.NewServer(cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Wire the handlers.
	plotsHandler := handlers.NewPlotsHandler(rentalSvc, srv.Validator, logger)
	checkoutHandler := handlers.NewCheckoutHandler(
		rentalSvc,
		stripeClient,
		srv.Validator,
		cfg.Server.SiteURL,
		logger,
	)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		rentalSvc,
		srv.Validator,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	diagHandler := handlers.NewDiagnosticsHandler(rentalSvc, srv.AdminKeyMiddleware, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		plotsHandler.RegisterRoutes,
		checkoutHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
		diagHandler.RegisterRoutes,
	)

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
