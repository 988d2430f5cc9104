package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/domain/distribution"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
)

// DistributionRepository implements the distribution.Repository interface for PostgreSQL
type DistributionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDistributionRepository creates a new PostgreSQL distribution repository
func NewDistributionRepository(logger *slog.Logger, db *persistence.PostgresDB) distribution.Repository {
	return &DistributionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Create stores a distribution run audit record
func (r *DistributionRepository) Create(ctx context.Context, run *distribution.Run) error {
	query := `
		INSERT INTO distribution_runs (id, period_key, users_count, processed_count, error_count, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.querier.Exec(ctx, query,
		run.ID,
		run.PeriodKey,
		run.UsersCount,
		run.ProcessedCount,
		run.ErrorCount,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create distribution run", "period_key", run.PeriodKey, "error", err)
		return fmt.Errorf("failed to create distribution run: %w", err)
	}

	return nil
}

// GetSuccessfulByPeriodKey returns the fully successful run for a period key,
// or nil when none exists yet
func (r *DistributionRepository) GetSuccessfulByPeriodKey(ctx context.Context, periodKey string) (*distribution.Run, error) {
	query := `
		SELECT id, period_key, users_count, processed_count, error_count, started_at, completed_at
		FROM distribution_runs
		WHERE period_key = $1 AND error_count = 0
		ORDER BY completed_at DESC
		LIMIT 1
	`

	run, err := scanRun(r.querier.QueryRow(ctx, query, periodKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get successful distribution run", "period_key", periodKey, "error", err)
		return nil, fmt.Errorf("failed to get successful distribution run: %w", err)
	}

	return run, nil
}

// ListByPeriodKey returns all recorded runs for a period key, newest first
func (r *DistributionRepository) ListByPeriodKey(ctx context.Context, periodKey string) ([]*distribution.Run, error) {
	query := `
		SELECT id, period_key, users_count, processed_count, error_count, started_at, completed_at
		FROM distribution_runs
		WHERE period_key = $1
		ORDER BY completed_at DESC
	`

	rows, err := r.querier.Query(ctx, query, periodKey)
	if err != nil {
		r.logger.Error("Failed to list distribution runs", "period_key", periodKey, "error", err)
		return nil, fmt.Errorf("failed to list distribution runs: %w", err)
	}
	defer rows.Close()

	var runs []*distribution.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			r.logger.Error("Failed to scan distribution run", "error", err)
			return nil, fmt.Errorf("failed to scan distribution run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over distribution runs", "error", err)
		return nil, fmt.Errorf("error iterating over distribution runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*distribution.Run, error) {
	var run distribution.Run
	err := row.Scan(
		&run.ID,
		&run.PeriodKey,
		&run.UsersCount,
		&run.ProcessedCount,
		&run.ErrorCount,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
