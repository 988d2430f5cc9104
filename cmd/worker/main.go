package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/data/mongo"
	"github.com/lumagen/credit-engine/internal/data/postgres"
	"github.com/lumagen/credit-engine/internal/logger"
	"github.com/lumagen/credit-engine/internal/platform/messaging/consumers"
	"github.com/lumagen/credit-engine/internal/platform/messaging/producers"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
	"github.com/lumagen/credit-engine/internal/worker/consumer"
	"github.com/lumagen/credit-engine/internal/worker/outbox_poller"
	"github.com/lumagen/credit-engine/internal/worker/sweeper"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting billing worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	generationRepo := postgres.NewGenerationRepository(log, postgresDB)
	referralRepo := postgres.NewReferralRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	archiveRepo := mongo.NewArchiveRepository(log, mongoDB.Database())

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Handler is nil-safe.

	// Initialize services
	ledgerService := billing.NewLedgerService(postgresDB, ledgerRepo, outboxRepo, log)
	referralService := billing.NewReferralService(&cfg.Referral, referralRepo, ledgerRepo, ledgerService, log)

	// Initialize billing event handler
	billingEventHandler := consumer.NewBillingEventHandler(
		log,
		ledgerService,
		referralService,
		dlqProducer,
	)

	// Initialize outbox poller
	poller := outbox_poller.NewPoller(
		&cfg.Outbox,
		outboxRepo,
		outbox_poller.NewArchiveProcessor(archiveRepo, log),
		outbox_poller.NewRefundProcessor(ledgerService, log),
		log,
	)

	// Initialize stale generation sweeper
	staleSweeper := sweeper.NewSweeper(
		&cfg.Generation,
		generationRepo,
		ledgerService,
		outboxRepo,
		log,
	)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.BillingTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, cfg.Kafka.BillingTopic, cfg.Kafka.ConsumerGroup, billingEventHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting settlement outbox poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		poller.Start(appCtx)
	}()

	// Start stale generation sweeper in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting stale generation sweeper", "stale_after", cfg.Generation.StaleAfter.String())
		staleSweeper.Start(appCtx)
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil { // dlqProducer can be nil if DLQTopic was not configured
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Billing worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Billing worker shutdown completed with errors")
	} else {
		log.Info("Billing worker shutdown completed successfully")
	}
}
