// Package outbox_poller drains the settlement outbox: archive tasks feed the
// audit archive, refund tasks re-attempt refunds until they land.
package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
)

// Poller processes pending settlement outbox tasks
type Poller struct {
	outboxRepo       outbox.Repository
	archiveProcessor TaskProcessor
	refundProcessor  TaskProcessor
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
}

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	archiveProcessor TaskProcessor,
	refundProcessor TaskProcessor,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		archiveProcessor: archiveProcessor,
		refundProcessor:  refundProcessor,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting settlement outbox poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Settlement outbox poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Outbox poller tick: processing pending tasks")
			if err := p.processPendingTasks(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending outbox tasks", "error", err)
			}
		}
	}
}

func (p *Poller) processPendingTasks(ctx context.Context) error {
	tasks, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox tasks: %w", err)
	}

	if len(tasks) == 0 {
		p.logger.Debug("No pending outbox tasks found.")
		return nil
	}

	p.logger.Info("Fetched pending outbox tasks", "count", len(tasks))

	for _, task := range tasks {
		if err := p.processTask(ctx, task); err != nil {
			p.logger.Error("Failed to process outbox task",
				"outbox_id", task.ID,
				"kind", string(task.Kind),
				"ref_id", task.RefID.String(),
				"current_attempts", task.Attempts,
				"error", err,
			)

			if errInc := p.outboxRepo.IncrementAttempts(ctx, task.ID); errInc != nil {
				p.logger.Error("Failed to increment attempts for outbox task", "outbox_id", task.ID, "error", errInc)
				continue
			}

			if task.Attempts+1 >= p.maxRetryAttempts {
				// A FAILED refund task means credits are still owed; this
				// log line is the escalation signal operators alert on.
				p.logger.Error("Max retry attempts reached for outbox task, marking as FAILED",
					"outbox_id", task.ID,
					"kind", string(task.Kind),
					"ref_id", task.RefID.String(),
					"account_id", task.AccountID.String(),
					"attempts_made", task.Attempts+1,
				)
				if errUpdate := p.outboxRepo.UpdateStatus(ctx, task.ID, outbox.TaskStatusFailed); errUpdate != nil {
					p.logger.Error("Failed to update outbox status to FAILED after max retries", "outbox_id", task.ID, "error", errUpdate)
				}
			}
			continue
		}

		if err := p.outboxRepo.UpdateStatus(ctx, task.ID, outbox.TaskStatusProcessed); err != nil {
			p.logger.Error("Task settled but failed to mark outbox task as PROCESSED",
				"outbox_id", task.ID, "error", err,
			)
			continue
		}
		p.logger.Debug("Outbox task processed", "outbox_id", task.ID, "kind", string(task.Kind))
	}
	return nil
}

func (p *Poller) processTask(ctx context.Context, task *outbox.Task) error {
	switch task.Kind {
	case outbox.TaskArchiveEntry:
		return p.archiveProcessor.Process(ctx, task)
	case outbox.TaskRetryRefund:
		return p.refundProcessor.Process(ctx, task)
	default:
		return fmt.Errorf("unknown outbox task kind %q for task %d", task.Kind, task.ID)
	}
}
