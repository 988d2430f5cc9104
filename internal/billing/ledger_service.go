package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
)

const (
	maxConflictRetries  = 3
	conflictBackoffBase = 50 * time.Millisecond
)

// LedgerServiceImpl implements the LedgerService interface
type LedgerServiceImpl struct {
	pgDB       TxExecutor
	ledgerRepo ledger.Repository
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	pgDB TxExecutor,
	ledgerRepo ledger.Repository,
	outboxRepo outbox.Repository,
	logger *slog.Logger,
) LedgerService {
	return &LedgerServiceImpl{
		pgDB:       pgDB,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// ReserveAndConsume charges the account for a generation request. The balance
// check and the CONSUME insert run in one serializable transaction so that
// concurrent requests cannot both pass the check; the partial unique index on
// (related_request_id, kind) rejects a second charge for the same request id
// regardless of isolation.
func (s *LedgerServiceImpl) ReserveAndConsume(ctx context.Context, accountID, requestID uuid.UUID, cost int64, correlationID string) (*ledger.Entry, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("consume cost must be positive, got %d", cost)
	}

	logger := s.logger
	if correlationID != "" {
		logger = s.logger.With("correlation_id", correlationID)
	}

	var entry *ledger.Entry
	err := s.withConflictRetry(ctx, logger, "consume", func() error {
		return s.pgDB.ExecuteSerializableTx(ctx, func(tx pgx.Tx) error {
			txLedger := s.ledgerRepo.WithTx(tx)

			balance, err := txLedger.Balance(ctx, accountID)
			if err != nil {
				return err
			}
			if balance < cost {
				return ledger.ErrInsufficientCredits{AccountID: accountID, Balance: balance, Required: cost}
			}

			entry = ledger.NewConsume(accountID, requestID, cost, ledger.ReasonGenerationConsumption)
			entry.CorrelationID = correlationID
			if err := txLedger.Insert(ctx, entry); err != nil {
				return err
			}
			return s.enqueueArchive(ctx, tx, entry)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Consumed credits",
		"account_id", accountID.String(),
		"request_id", requestID.String(),
		"amount", entry.Amount,
	)
	return entry, nil
}

// Refund reverses the CONSUME of a request. The refund amount is always the
// negation of the consume amount; the unique index on (related_request_id,
// kind) guarantees at most one REFUND per request.
func (s *LedgerServiceImpl) Refund(ctx context.Context, requestID uuid.UUID, reason ledger.Reason, correlationID string) (*ledger.Entry, error) {
	logger := s.logger
	if correlationID != "" {
		logger = s.logger.With("correlation_id", correlationID)
	}

	var entry *ledger.Entry
	err := s.withConflictRetry(ctx, logger, "refund", func() error {
		return s.pgDB.ExecuteTx(ctx, func(tx pgx.Tx) error {
			txLedger := s.ledgerRepo.WithTx(tx)

			consume, err := txLedger.GetConsume(ctx, requestID)
			if err != nil {
				return err
			}

			entry = ledger.NewRefund(consume, reason)
			entry.CorrelationID = correlationID
			if err := txLedger.Insert(ctx, entry); err != nil {
				return err
			}
			return s.enqueueArchive(ctx, tx, entry)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Refunded credits",
		"account_id", entry.AccountID.String(),
		"request_id", requestID.String(),
		"amount", entry.Amount,
	)
	return entry, nil
}

// Grant credits the account. A replayed grant (same idempotency key) returns
// the entry written the first time, so queue redeliveries and batch re-runs
// never double-credit.
func (s *LedgerServiceImpl) Grant(ctx context.Context, accountID uuid.UUID, amount int64, reason ledger.Reason, idempotencyKey string, expiresAt *time.Time, correlationID string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if idempotencyKey == "" {
		return nil, fmt.Errorf("grant idempotency key is required")
	}

	logger := s.logger
	if correlationID != "" {
		logger = s.logger.With("correlation_id", correlationID)
	}

	entry := ledger.NewGrant(accountID, amount, reason, idempotencyKey, expiresAt)
	entry.CorrelationID = correlationID

	err := s.withConflictRetry(ctx, logger, "grant", func() error {
		return s.pgDB.ExecuteTx(ctx, func(tx pgx.Tx) error {
			if err := s.ledgerRepo.WithTx(tx).Insert(ctx, entry); err != nil {
				return err
			}
			return s.enqueueArchive(ctx, tx, entry)
		})
	})
	if errors.Is(err, ledger.ErrAlreadyGranted{}) {
		existing, getErr := s.ledgerRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if getErr != nil {
			return nil, fmt.Errorf("grant %s already applied but lookup failed: %w", idempotencyKey, getErr)
		}
		logger.Debug("Grant already applied, returning existing entry",
			"idempotency_key", idempotencyKey,
			"entry_id", existing.ID.String(),
		)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Granted credits",
		"account_id", accountID.String(),
		"amount", amount,
		"reason", string(reason),
		"idempotency_key", idempotencyKey,
	)
	return entry, nil
}

// GetBalance returns the sum of the account's non-expired entries
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.ledgerRepo.Balance(ctx, accountID)
}

// GetEntriesByAccountID retrieves a paginated credit history with total count
func (s *LedgerServiceImpl) GetEntriesByAccountID(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	entries, err := s.ledgerRepo.ListByAccountID(ctx, accountID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledgerRepo.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// enqueueArchive writes the archive outbox task in the same transaction as
// the entry, so a committed entry always reaches the audit archive.
func (s *LedgerServiceImpl) enqueueArchive(ctx context.Context, tx pgx.Tx, entry *ledger.Entry) error {
	task, err := outbox.NewArchiveTask(entry)
	if err != nil {
		return fmt.Errorf("failed to build archive task for entry %s: %w", entry.ID.String(), err)
	}
	return s.outboxRepo.WithTx(tx).Create(ctx, task)
}

// withConflictRetry re-runs op on transient storage conflicts. Serialization
// failures can surface either as ledger.ErrConflict from the repository or as
// a raw 40001 from commit.
func (s *LedgerServiceImpl) withConflictRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !isConflict(err) {
			return err
		}
		logger.Warn("Transient ledger conflict, retrying",
			"operation", op,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoffBase << attempt):
		}
	}
	return fmt.Errorf("%s failed after %d conflict retries: %w", op, maxConflictRetries, ledger.ErrConflict)
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ledger.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
