package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
)

// OutboxRepository implements the outbox.Repository interface for PostgreSQL
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewOutboxRepository creates a new PostgreSQL settlement outbox repository
func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) outbox.Repository {
	return &OutboxRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations.
// This ensures task creation is atomic with the ledger write it settles.
func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new settlement task in pending status.
// The task will be picked up by the worker's outbox poller.
func (r *OutboxRepository) Create(ctx context.Context, task *outbox.Task) error {
	query := `
		INSERT INTO settlement_outbox (kind, account_id, ref_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		task.Kind,
		task.AccountID,
		task.RefID,
		task.Payload,
		task.Status,
		task.Attempts,
		task.CreatedAt,
	).Scan(&task.ID)

	if err != nil {
		r.logger.Error("Failed to create outbox task",
			"kind", string(task.Kind),
			"ref_id", task.RefID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox task: %w", err)
	}

	return nil
}

// GetPending retrieves a batch of pending tasks ordered by creation time.
// This is used by the outbox poller to process tasks in FIFO order.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Task, error) {
	query := `
		SELECT id, kind, account_id, ref_id, payload, status, attempts, created_at, last_attempt_at
		FROM settlement_outbox
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, outbox.TaskStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox tasks", "error", err)
		return nil, fmt.Errorf("failed to get pending outbox tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*outbox.Task
	for rows.Next() {
		var task outbox.Task
		err := rows.Scan(
			&task.ID,
			&task.Kind,
			&task.AccountID,
			&task.RefID,
			&task.Payload,
			&task.Status,
			&task.Attempts,
			&task.CreatedAt,
			&task.LastAttemptAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan outbox task", "error", err)
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over outbox tasks", "error", err)
		return nil, fmt.Errorf("error iterating over outbox tasks: %w", err)
	}

	return tasks, nil
}

// UpdateStatus updates the task status and last attempt timestamp.
// Returns ErrTaskNotFound if the task doesn't exist.
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status outbox.TaskStatus) error {
	query := `
		UPDATE settlement_outbox
		SET status = $1, last_attempt_at = $2
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update outbox task status",
			"id", id,
			"status", string(status),
			"error", err,
		)
		return fmt.Errorf("failed to update outbox task status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrTaskNotFound{ID: id}
	}

	return nil
}

// IncrementAttempts increments the retry counter and updates last attempt time.
// This is used for tracking failed processing attempts and implementing retry logic.
func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE settlement_outbox
		SET attempts = attempts + 1, last_attempt_at = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to increment outbox task attempts",
			"id", id,
			"error", err,
		)
		return fmt.Errorf("failed to increment outbox task attempts: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrTaskNotFound{ID: id}
	}

	return nil
}

// Delete permanently removes a task from the outbox.
// This is typically called after successful processing.
func (r *OutboxRepository) Delete(ctx context.Context, id int64) error {
	query := `
		DELETE FROM settlement_outbox
		WHERE id = $1
	`

	result, err := r.querier.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete outbox task",
			"id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete outbox task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrTaskNotFound{ID: id}
	}

	return nil
}
