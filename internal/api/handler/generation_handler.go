package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/api/middleware"
	"github.com/lumagen/credit-engine/internal/api/service"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
)

// GenerationHandler handles HTTP requests for generation operations
type GenerationHandler struct {
	generationService service.GenerationService
	logger            *slog.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(logger *slog.Logger, generationService service.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		logger:            logger,
	}
}

// Submit runs a generation synchronously and returns the settled record.
// The response arrives when the request reaches completed or failed; billing
// rejections surface as 402/409 before any provider work starts.
func (h *GenerationHandler) Submit(c *gin.Context) {
	var req SubmitGenerationRequest
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

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		h.logger.Error("Invalid project ID", "project_id", req.ProjectID, "error", err)
		RespondBadRequest(c, "Invalid project ID")
		return
	}

	references := make([]service.ReferenceImage, 0, len(req.References))
	for _, ref := range req.References {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			RespondBadRequest(c, "Invalid reference image encoding")
			return
		}
		references = append(references, service.ReferenceImage{
			Data:        data,
			Filename:    ref.Filename,
			ContentType: ref.ContentType,
		})
	}

	record, err := h.generationService.Submit(c.Request.Context(), service.SubmitParams{
		AccountID:     accountID,
		ProjectID:     projectID,
		ModelID:       req.Model,
		Prompt:        req.Prompt,
		AspectRatio:   req.AspectRatio,
		Quality:       req.Quality,
		References:    references,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation{}):
			RespondBadRequest(c, err.Error())
		case errors.Is(err, ledger.ErrInsufficientCredits{}):
			RespondPaymentRequired(c, "Insufficient credits")
		case errors.Is(err, ledger.ErrAlreadyConsumed{}):
			RespondConflict(c, "Request was already charged")
		case errors.Is(err, ledger.ErrConflict):
			RespondConflict(c, "Ledger busy, please retry")
		default:
			h.logger.Error("Failed to submit generation", "error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondCreated(c, mapRequestToResponse(record))
}

// GetByID retrieves a lifecycle record by its ID, returns 404 if not found
func (h *GenerationHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		h.logger.Error("Invalid generation ID", "id", idParam, "error", err)
		RespondBadRequest(c, "Invalid generation ID")
		return
	}

	record, err := h.generationService.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, generation.ErrRequestNotFound{}) {
			RespondNotFound(c, "Generation not found")
			return
		}
		h.logger.Error("Failed to get generation", "id", idParam, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapRequestToResponse(record))
}

// GetByProjectID retrieves paginated generation history for a project
func (h *GenerationHandler) GetByProjectID(c *gin.Context) {
	projectIDParam := c.Param("id")
	projectID, err := uuid.Parse(projectIDParam)
	if err != nil {
		h.logger.Error("Invalid project ID", "project_id", projectIDParam, "error", err)
		RespondBadRequest(c, "Invalid project ID")
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	records, total, err := h.generationService.ListByProjectID(
		c.Request.Context(),
		projectID,
		pagination.Page,
		pagination.PerPage,
	)
	if err != nil {
		h.logger.Error("Failed to list generations", "project_id", projectIDParam, "error", err)
		RespondInternalError(c)
		return
	}

	var responses []GenerationResponse
	for _, record := range records {
		responses = append(responses, mapRequestToResponse(record))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, int(total))
}

// mapRequestToResponse maps a lifecycle record to a generation response DTO
func mapRequestToResponse(record *generation.Request) GenerationResponse {
	return GenerationResponse{
		ID:           record.ID.String(),
		AccountID:    record.AccountID.String(),
		ProjectID:    record.ProjectID.String(),
		Status:       string(record.Status),
		Model:        record.ModelID,
		CreditCost:   record.CreditCost,
		Prompt:       record.Prompt,
		OutputImage:  record.OutputImage,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    record.UpdatedAt.Format(time.RFC3339),
	}
}
