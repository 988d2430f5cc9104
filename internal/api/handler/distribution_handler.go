package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumagen/credit-engine/internal/api/service"
)

// DistributionHandler handles the internal distribution trigger
type DistributionHandler struct {
	distributionService service.DistributionService
	logger              *slog.Logger
}

// NewDistributionHandler creates a new distribution handler
func NewDistributionHandler(logger *slog.Logger, distributionService service.DistributionService) *DistributionHandler {
	return &DistributionHandler{
		distributionService: distributionService,
		logger:              logger,
	}
}

// Run executes the periodic distribution for the requested period key. The
// scheduler calls this once per period; re-triggering a completed period
// returns the recorded run unchanged.
func (h *DistributionHandler) Run(c *gin.Context) {
	var req RunDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	run, err := h.distributionService.Run(c.Request.Context(), req.PeriodKey)
	if err != nil {
		h.logger.Error("Distribution run failed", "period_key", req.PeriodKey, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, DistributionRunResponse{
		ID:             run.ID.String(),
		PeriodKey:      run.PeriodKey,
		UsersCount:     run.UsersCount,
		ProcessedCount: run.ProcessedCount,
		ErrorCount:     run.ErrorCount,
		StartedAt:      run.StartedAt.Format(time.RFC3339),
		CompletedAt:    run.CompletedAt.Format(time.RFC3339),
	})
}
