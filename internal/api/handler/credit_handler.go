package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumagen/credit-engine/internal/api/middleware"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
)

// CreditHandler handles HTTP requests for credit balance and history
type CreditHandler struct {
	ledgerService billing.LedgerService
	logger        *slog.Logger
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(logger *slog.Logger, ledgerService billing.LedgerService) *CreditHandler {
	return &CreditHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// GetBalance returns the authenticated account's current credit balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to get balance", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, BalanceResponse{
		AccountID: accountID.String(),
		Balance:   balance,
	})
}

// GetEntries returns the authenticated account's paginated credit history
func (h *CreditHandler) GetEntries(c *gin.Context) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		RespondUnauthorized(c, "")
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.ledgerService.GetEntriesByAccountID(
		c.Request.Context(),
		accountID,
		pagination.Page,
		pagination.PerPage,
	)
	if err != nil {
		h.logger.Error("Failed to get credit entries", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	var responses []CreditEntryResponse
	for _, entry := range entries {
		responses = append(responses, mapEntryToResponse(entry))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, int(total))
}

// mapEntryToResponse maps a ledger entry to a credit entry response DTO
func mapEntryToResponse(entry *ledger.Entry) CreditEntryResponse {
	response := CreditEntryResponse{
		ID:        entry.ID.String(),
		Kind:      string(entry.Kind),
		Amount:    entry.Amount,
		Reason:    string(entry.Reason),
		CreatedAt: entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.RelatedRequestID != nil {
		response.RelatedRequestID = entry.RelatedRequestID.String()
	}
	if entry.ExpiresAt != nil {
		response.ExpiresAt = entry.ExpiresAt.Format(time.RFC3339)
	}
	return response
}
