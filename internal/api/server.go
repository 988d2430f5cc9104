// Package api assembles the HTTP surface of the credit engine: routing,
// middleware and the server lifecycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumagen/credit-engine/internal/api/handler"
	"github.com/lumagen/credit-engine/internal/api/service"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/platform/auth"
)

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(
	log *slog.Logger,
	cfg *config.Config,
	verifier auth.TokenVerifier,
	generationService service.GenerationService,
	ledgerService billing.LedgerService,
	referralService billing.ReferralService,
	distributionService service.DistributionService,
) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	generationHandler := handler.NewGenerationHandler(log, generationService)
	creditHandler := handler.NewCreditHandler(log, ledgerService)
	referralHandler := handler.NewReferralHandler(log, referralService)
	distributionHandler := handler.NewDistributionHandler(log, distributionService)

	setupRouter(log, httpRouter, verifier, cfg.Distribution.TriggerToken,
		generationHandler, creditHandler, referralHandler, distributionHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server with a timeout
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	// In-flight generations may hold the connection for the full provider
	// budget; the write timeout bounds the drain.
	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}

	return nil
}
