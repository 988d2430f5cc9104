// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while maintaining
// transaction safety and proper error handling for the credit engine.
package postgres

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
	"github.com/lumagen/credit-engine/internal/platform/persistence"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls.
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

const entryColumns = `id, account_id, kind, amount, reason, related_request_id, idempotency_key, correlation_id, expires_at, created_at`

// Insert appends an entry. The partial unique indexes over
// (related_request_id, kind) and idempotency_key convert duplicate writes
// into the idempotency errors; serialization failures surface as ErrConflict
// for the caller's retry loop.
func (r *LedgerRepository) Insert(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, kind, amount, reason, related_request_id, idempotency_key, correlation_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.querier.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Kind,
		entry.Amount,
		entry.Reason,
		entry.RelatedRequestID,
		nullableString(entry.IdempotencyKey),
		nullableString(entry.CorrelationID),
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	if err != nil {
		if dupErr := r.mapInsertError(entry, err); dupErr != nil {
			return dupErr
		}
		r.logger.Error("Failed to insert ledger entry", "entry_id", entry.ID.String(), "kind", string(entry.Kind), "error", err)
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// mapInsertError translates constraint and serialization errors into domain
// errors; returns nil when the error is not one of those.
func (r *LedgerRepository) mapInsertError(entry *ledger.Entry, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgSerializationFailure:
		return ledger.ErrConflict
	case pgUniqueViolation:
		switch entry.Kind {
		case ledger.KindConsume:
			if entry.RelatedRequestID != nil {
				return ledger.ErrAlreadyConsumed{RequestID: *entry.RelatedRequestID}
			}
		case ledger.KindRefund:
			if entry.RelatedRequestID != nil {
				return ledger.ErrAlreadyRefunded{RequestID: *entry.RelatedRequestID}
			}
		case ledger.KindGrant:
			return ledger.ErrAlreadyGranted{IdempotencyKey: entry.IdempotencyKey}
		}
		return ledger.ErrConflict
	}
	return nil
}

// Balance sums non-expired entries for an account. The read is lock-free;
// authorization decisions re-read inside the consume transaction instead.
func (r *LedgerRepository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`

	var balance int64
	if err := r.querier.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		r.logger.Error("Failed to compute balance", "account_id", accountID.String(), "error", err)
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}

	return balance, nil
}

// GetConsume retrieves the CONSUME entry for a request id
func (r *LedgerRepository) GetConsume(ctx context.Context, requestID uuid.UUID) (*ledger.Entry, error) {
	entry, err := r.getByRequestAndKind(ctx, requestID, ledger.KindConsume)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrConsumeNotFound{RequestID: requestID}
		}
		r.logger.Error("Failed to get consume entry", "request_id", requestID.String(), "error", err)
		return nil, fmt.Errorf("failed to get consume entry: %w", err)
	}
	return entry, nil
}

// GetRefund retrieves the REFUND entry for a request id
func (r *LedgerRepository) GetRefund(ctx context.Context, requestID uuid.UUID) (*ledger.Entry, error) {
	entry, err := r.getByRequestAndKind(ctx, requestID, ledger.KindRefund)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrRefundNotFound{RequestID: requestID}
		}
		r.logger.Error("Failed to get refund entry", "request_id", requestID.String(), "error", err)
		return nil, fmt.Errorf("failed to get refund entry: %w", err)
	}
	return entry, nil
}

func (r *LedgerRepository) getByRequestAndKind(ctx context.Context, requestID uuid.UUID, kind ledger.Kind) (*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE related_request_id = $1 AND kind = $2
	`

	return scanEntry(r.querier.QueryRow(ctx, query, requestID, kind))
}

// GetByIdempotencyKey retrieves an entry by its idempotency key.
// Returns nil when no entry carries the key.
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*ledger.Entry, error) {
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE idempotency_key = $1
	`

	entry, err := scanEntry(r.querier.QueryRow(ctx, query, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get entry by idempotency key", "idempotency_key", idempotencyKey, "error", err)
		return nil, fmt.Errorf("failed to get entry by idempotency key: %w", err)
	}

	return entry, nil
}

// ListByAccountID retrieves entries for an account, newest first
func (r *LedgerRepository) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}

	return entries, nil
}

// CountByAccountID counts all entries for an account
func (r *LedgerRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE account_id = $1
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		r.logger.Error("Failed to count ledger entries", "account_id", accountID.String(), "error", err)
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	return count, nil
}

// SumByReason totals amounts of one reason for an account
func (r *LedgerRepository) SumByReason(ctx context.Context, accountID uuid.UUID, reason ledger.Reason) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND reason = $2
	`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, accountID, reason).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum ledger entries by reason", "account_id", accountID.String(), "reason", string(reason), "error", err)
		return 0, fmt.Errorf("failed to sum ledger entries by reason: %w", err)
	}

	return sum, nil
}

// ListActiveAccountIDs returns distinct account ids with an entry newer than since
func (r *LedgerRepository) ListActiveAccountIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT account_id
		FROM ledger_entries
		WHERE created_at >= $1
	`

	rows, err := r.querier.Query(ctx, query, since)
	if err != nil {
		r.logger.Error("Failed to list active account ids", "error", err)
		return nil, fmt.Errorf("failed to list active account ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			r.logger.Error("Failed to scan account id", "error", err)
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over account ids", "error", err)
		return nil, fmt.Errorf("error iterating over account ids: %w", err)
	}

	return ids, nil
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var entry ledger.Entry
	var idempotencyKey, correlationID *string
	err := row.Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.Kind,
		&entry.Amount,
		&entry.Reason,
		&entry.RelatedRequestID,
		&idempotencyKey,
		&correlationID,
		&entry.ExpiresAt,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != nil {
		entry.IdempotencyKey = *idempotencyKey
	}
	if correlationID != nil {
		entry.CorrelationID = *correlationID
	}
	return &entry, nil
}

// nullableString maps "" to NULL so partial unique indexes skip blank keys
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
