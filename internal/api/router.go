package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumagen/credit-engine/internal/api/handler"
	"github.com/lumagen/credit-engine/internal/api/middleware"
	"github.com/lumagen/credit-engine/internal/platform/auth"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	verifier auth.TokenVerifier,
	internalToken string,
	generationHandler *handler.GenerationHandler,
	creditHandler *handler.CreditHandler,
	referralHandler *handler.ReferralHandler,
	distributionHandler *handler.DistributionHandler,
) {
	// CorrelationID runs before Logger so the request line carries the id
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))

	// API v1 endpoints, all behind token auth
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(logger, verifier))
	{
		// Generation operations
		generations := v1.Group("/generations")
		{
			generations.POST("", generationHandler.Submit)
			generations.GET("/:id", generationHandler.GetByID)
		}
		v1.GET("/projects/:id/generations", generationHandler.GetByProjectID)

		// Credit ledger reads
		credits := v1.Group("/credits")
		{
			credits.GET("/balance", creditHandler.GetBalance)
			credits.GET("/entries", creditHandler.GetEntries)
		}

		// Referral program
		referrals := v1.Group("/referrals")
		{
			referrals.GET("/code", referralHandler.GetCode)
			referrals.POST("/apply", referralHandler.ApplyCode)
			referrals.GET("/stats", referralHandler.GetStats)
		}
	}

	// Internal endpoints guarded by the shared credential
	internal := r.Group("/internal")
	internal.Use(middleware.InternalToken(logger, internalToken))
	{
		internal.POST("/distribution/run", distributionHandler.Run)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
