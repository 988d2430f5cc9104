package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumagen/credit-engine/internal/api"
	"github.com/lumagen/credit-engine/internal/api/service"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/data/postgres"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/logger"
	"github.com/lumagen/credit-engine/internal/platform/auth"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
	"github.com/lumagen/credit-engine/internal/platform/provider"
	"github.com/lumagen/credit-engine/internal/platform/storage"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize database with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	// Initialize outbound collaborators
	tokenVerifier := auth.NewClient(log, &cfg.Auth)
	imageProvider := provider.NewClient(log, &cfg.Provider)
	objectStore := storage.NewClient(log, &cfg.Storage)

	// Initialize repositories
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	generationRepo := postgres.NewGenerationRepository(log, postgresDB)
	referralRepo := postgres.NewReferralRepository(log, postgresDB)
	distributionRepo := postgres.NewDistributionRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)

	// Initialize services
	ledgerService := billing.NewLedgerService(postgresDB, ledgerRepo, outboxRepo, log)
	referralService := billing.NewReferralService(&cfg.Referral, referralRepo, ledgerRepo, ledgerService, log)

	generationService, err := service.NewGenerationService(
		&cfg.Generation,
		cfg.Storage.Folder,
		generationRepo,
		ledgerService,
		outboxRepo,
		imageProvider,
		objectStore,
		generation.DefaultPricing,
		log,
	)
	if err != nil {
		log.Error("Failed to initialize generation service", "error", err)
		os.Exit(1)
	}

	distributionService, err := service.NewDistributionService(
		&cfg.Distribution,
		distributionRepo,
		ledgerRepo,
		ledgerService,
		log,
	)
	if err != nil {
		log.Error("Failed to initialize distribution service", "error", err)
		os.Exit(1)
	}

	// Initialize REST server
	server := api.NewServer(log, cfg, tokenVerifier, generationService, ledgerService, referralService, distributionService)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first so in-flight generations can settle
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	// Release worker pools
	generationService.Shutdown()
	distributionService.Shutdown()

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
