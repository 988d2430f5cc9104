package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumagen/credit-engine/internal/api/middleware"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/domain/referral"
)

// ReferralHandler handles HTTP requests for the referral program
type ReferralHandler struct {
	referralService billing.ReferralService
	logger          *slog.Logger
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(logger *slog.Logger, referralService billing.ReferralService) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
		logger:          logger,
	}
}

// GetCode returns the account's shareable code, creating it on first request
func (h *ReferralHandler) GetCode(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return
	}

	code, err := h.referralService.GetOrCreateCode(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to get referral code", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, ReferralCodeResponse{
		Code:      code.Code,
		CreatedAt: code.CreatedAt.Format(time.RFC3339),
	})
}

// ApplyCode links the authenticated account to a referrer's code
func (h *ReferralHandler) ApplyCode(c *gin.Context) {
	var req ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return
	}

	rel, err := h.referralService.ApplyCode(c.Request.Context(), accountID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrCodeNotFound{}):
			RespondNotFound(c, "Referral code not found")
		case errors.Is(err, referral.ErrSelfReferral{}):
			RespondBadRequest(c, "You cannot apply your own referral code")
		case errors.Is(err, referral.ErrAlreadyApplied{}):
			RespondConflict(c, "A referral code was already applied to this account")
		default:
			h.logger.Error("Failed to apply referral code", "account_id", accountID.String(), "error", err)
			RespondInternalError(c)
		}
		return
	}

	response := RelationshipResponse{
		ID:         rel.ID.String(),
		ReferrerID: rel.ReferrerID.String(),
		Status:     string(rel.Status),
		CreatedAt:  rel.CreatedAt.Format(time.RFC3339),
	}
	if rel.QualifiedAt != nil {
		response.QualifiedAt = rel.QualifiedAt.Format(time.RFC3339)
	}
	RespondCreated(c, response)
}

// GetStats returns the authenticated account's referral program results
func (h *ReferralHandler) GetStats(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return
	}

	stats, err := h.referralService.GetStats(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to get referral stats", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, ReferralStatsResponse{
		TotalReferred: stats.TotalReferred,
		Qualified:     stats.Qualified,
		Rewarded:      stats.Rewarded,
		CreditsEarned: stats.CreditsEarned,
	})
}
