package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/domain/distribution"
	"github.com/lumagen/credit-engine/internal/domain/generation"
)

// ReferenceImage is one raw reference payload attached to a submission
type ReferenceImage struct {
	Data        []byte
	Filename    string
	ContentType string
}

// SubmitParams describes one generation submission
type SubmitParams struct {
	AccountID     uuid.UUID
	ProjectID     uuid.UUID
	ModelID       string
	Prompt        string
	AspectRatio   string
	Quality       string
	References    []ReferenceImage
	CorrelationID string
}

// GenerationService defines the generation orchestration operations
type GenerationService interface {
	// Submit prices, charges and runs one generation. It blocks until the
	// request reaches a terminal state and returns the settled record.
	// Billing errors surface as ledger domain errors; validation failures
	// as ErrValidation.
	Submit(ctx context.Context, params SubmitParams) (*generation.Request, error)

	// GetByID retrieves a lifecycle record
	// Returns ErrRequestNotFound if the record doesn't exist
	GetByID(ctx context.Context, id uuid.UUID) (*generation.Request, error)

	// ListByProjectID retrieves a paginated project history with total count
	ListByProjectID(ctx context.Context, projectID uuid.UUID, page, perPage int) ([]*generation.Request, int64, error)

	// Shutdown releases the provider worker pool
	Shutdown()
}

// DistributionService defines the periodic distribution operations
type DistributionService interface {
	// Run executes the distribution for a period key. A fully successful
	// prior run for the same key short-circuits to its recorded stats.
	Run(ctx context.Context, periodKey string) (*distribution.Run, error)

	// Shutdown releases the grant worker pool
	Shutdown()
}
