package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
)

// GenerationRepository implements the generation.Repository interface for PostgreSQL
type GenerationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewGenerationRepository creates a new PostgreSQL generation repository
func NewGenerationRepository(logger *slog.Logger, db *persistence.PostgresDB) generation.Repository {
	return &GenerationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *GenerationRepository) WithTx(tx pgx.Tx) generation.Repository {
	return &GenerationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const requestColumns = `id, account_id, project_id, role, status, model_id, credit_cost, prompt, output_image, error_message, created_at, updated_at`

// Create stores a new lifecycle record in pending status
func (r *GenerationRepository) Create(ctx context.Context, req *generation.Request) error {
	query := `
		INSERT INTO generation_requests (id, account_id, project_id, role, status, model_id, credit_cost, prompt, output_image, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.querier.Exec(ctx, query,
		req.ID,
		req.AccountID,
		req.ProjectID,
		req.Role,
		req.Status,
		req.ModelID,
		req.CreditCost,
		req.Prompt,
		req.OutputImage,
		req.ErrorMessage,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create generation request", "request_id", req.ID.String(), "error", err)
		return fmt.Errorf("failed to create generation request: %w", err)
	}

	return nil
}

// GetByID retrieves a lifecycle record by its ID
func (r *GenerationRepository) GetByID(ctx context.Context, id uuid.UUID) (*generation.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE id = $1
	`

	req, err := scanRequest(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, generation.ErrRequestNotFound{ID: id}
		}
		r.logger.Error("Failed to get generation request", "request_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get generation request: %w", err)
	}

	return req, nil
}

// ListByProjectID retrieves lifecycle records for a project, newest first
func (r *GenerationRepository) ListByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*generation.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list generation requests", "project_id", projectID.String(), "error", err)
		return nil, fmt.Errorf("failed to list generation requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// CountByProjectID counts lifecycle records for a project
func (r *GenerationRepository) CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM generation_requests
		WHERE project_id = $1
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, projectID).Scan(&count); err != nil {
		r.logger.Error("Failed to count generation requests", "project_id", projectID.String(), "error", err)
		return 0, fmt.Errorf("failed to count generation requests: %w", err)
	}

	return count, nil
}

// MarkGenerating moves a pending row to generating. The status predicate in
// the WHERE clause is what makes the lifecycle forward-only under
// concurrent writers.
func (r *GenerationRepository) MarkGenerating(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE generation_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.querier.Exec(ctx, query, generation.StatusGenerating, id, generation.StatusPending)
	if err != nil {
		r.logger.Error("Failed to mark generation request generating", "request_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark generation request generating: %w", err)
	}

	if result.RowsAffected() == 0 {
		return generation.ErrInvalidTransition{ID: id, To: generation.StatusGenerating}
	}

	return nil
}

// MarkCompleted moves a generating row to completed and stores the output image
func (r *GenerationRepository) MarkCompleted(ctx context.Context, id uuid.UUID, outputImage string) error {
	query := `
		UPDATE generation_requests
		SET status = $1, output_image = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, generation.StatusCompleted, outputImage, id, generation.StatusGenerating)
	if err != nil {
		r.logger.Error("Failed to mark generation request completed", "request_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark generation request completed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return generation.ErrInvalidTransition{ID: id, To: generation.StatusCompleted}
	}

	return nil
}

// MarkFailed moves a pending or generating row to failed with the error message
func (r *GenerationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE generation_requests
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := r.querier.Exec(ctx, query, generation.StatusFailed, errorMessage, id, generation.StatusPending, generation.StatusGenerating)
	if err != nil {
		r.logger.Error("Failed to mark generation request failed", "request_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark generation request failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return generation.ErrInvalidTransition{ID: id, To: generation.StatusFailed}
	}

	return nil
}

// ListStaleGenerating returns rows stuck in generating since before the cutoff
func (r *GenerationRepository) ListStaleGenerating(ctx context.Context, cutoff time.Time, limit int) ([]*generation.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, generation.StatusGenerating, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to list stale generation requests", "error", err)
		return nil, fmt.Errorf("failed to list stale generation requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*generation.Request, error) {
	var requests []*generation.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over generation requests: %w", err)
	}

	return requests, nil
}

func scanRequest(row pgx.Row) (*generation.Request, error) {
	var req generation.Request
	err := row.Scan(
		&req.ID,
		&req.AccountID,
		&req.ProjectID,
		&req.Role,
		&req.Status,
		&req.ModelID,
		&req.CreditCost,
		&req.Prompt,
		&req.OutputImage,
		&req.ErrorMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
