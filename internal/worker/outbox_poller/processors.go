package outbox_poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
)

// EntryArchiver writes settled ledger entries to the audit archive. Satisfied
// by mongo.ArchiveRepository.
type EntryArchiver interface {
	Archive(ctx context.Context, entry *ledger.Entry) error
}

// TaskProcessor settles one outbox task. A nil return marks the task
// processed; an error leaves it pending for the next tick.
type TaskProcessor interface {
	Process(ctx context.Context, task *outbox.Task) error
}

// ArchiveProcessor copies settled ledger entries into the audit archive
type ArchiveProcessor struct {
	archiveRepo EntryArchiver
	logger      *slog.Logger
}

// NewArchiveProcessor creates a new archive processor
func NewArchiveProcessor(archiveRepo EntryArchiver, logger *slog.Logger) *ArchiveProcessor {
	return &ArchiveProcessor{
		archiveRepo: archiveRepo,
		logger:      logger,
	}
}

// Process writes the task's ledger entry to the archive. Archive inserts are
// idempotent by entry id, so redelivered tasks are harmless.
func (p *ArchiveProcessor) Process(ctx context.Context, task *outbox.Task) error {
	var entry ledger.Entry
	if err := json.Unmarshal(task.Payload, &entry); err != nil {
		return fmt.Errorf("unmarshal archive payload for outbox task %d failed: %w", task.ID, err)
	}

	logger := p.logger
	if entry.CorrelationID != "" {
		logger = p.logger.With("correlation_id", entry.CorrelationID)
	}

	if err := p.archiveRepo.Archive(ctx, &entry); err != nil {
		return fmt.Errorf("failed to archive ledger entry %s: %w", entry.ID.String(), err)
	}

	logger.Debug("Archived ledger entry",
		"outbox_id", task.ID,
		"entry_id", entry.ID.String(),
		"kind", string(entry.Kind),
	)
	return nil
}

// RefundProcessor applies refunds that could not land inline. Credits owed
// to users are retried until they settle.
type RefundProcessor struct {
	ledgerService billing.LedgerService
	logger        *slog.Logger
}

// NewRefundProcessor creates a new refund processor
func NewRefundProcessor(ledgerService billing.LedgerService, logger *slog.Logger) *RefundProcessor {
	return &RefundProcessor{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// Process re-attempts the refund described by the task. A refund that
// already landed, through an earlier attempt or the inline path racing this
// one, counts as settled.
func (p *RefundProcessor) Process(ctx context.Context, task *outbox.Task) error {
	var payload outbox.RefundPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal refund payload for outbox task %d failed: %w", task.ID, err)
	}

	_, err := p.ledgerService.Refund(ctx, payload.RequestID, payload.Reason, "")
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyRefunded{}) {
			p.logger.Debug("Refund already settled", "outbox_id", task.ID, "request_id", payload.RequestID.String())
			return nil
		}
		return fmt.Errorf("retried refund for request %s failed: %w", payload.RequestID.String(), err)
	}

	p.logger.Info("Settled retried refund",
		"outbox_id", task.ID,
		"request_id", payload.RequestID.String(),
		"account_id", payload.AccountID.String(),
	)
	return nil
}
