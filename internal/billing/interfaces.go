// Package billing holds the credit operations shared by the HTTP surface and
// the background worker: the ledger write paths with their idempotency
// guarantees, and the referral program flows built on top of them.
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/referral"
)

// TxExecutor runs functions inside database transactions. Satisfied by
// persistence.PostgresDB.
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ExecuteSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// LedgerService defines the credit ledger operations
type LedgerService interface {
	// ReserveAndConsume charges cost credits against the account for one
	// generation request. At most one CONSUME may exist per request id.
	// Returns ErrInsufficientCredits when the balance cannot cover the cost
	// and ErrAlreadyConsumed when the request was charged before.
	ReserveAndConsume(ctx context.Context, accountID, requestID uuid.UUID, cost int64, correlationID string) (*ledger.Entry, error)

	// Refund returns the credits consumed for a request. At most one REFUND
	// may exist per request id. Returns ErrConsumeNotFound when the request
	// was never charged and ErrAlreadyRefunded when it was refunded before.
	Refund(ctx context.Context, requestID uuid.UUID, reason ledger.Reason, correlationID string) (*ledger.Entry, error)

	// Grant credits the account. The idempotency key makes replays safe: a
	// grant whose key already exists returns the existing entry unchanged.
	Grant(ctx context.Context, accountID uuid.UUID, amount int64, reason ledger.Reason, idempotencyKey string, expiresAt *time.Time, correlationID string) (*ledger.Entry, error)

	// GetBalance returns the sum of the account's non-expired entries
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)

	// GetEntriesByAccountID retrieves a paginated credit history along with
	// the total entry count
	GetEntriesByAccountID(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error)
}

// ReferralService defines the referral program operations
type ReferralService interface {
	// GetOrCreateCode returns the account's shareable code, creating it on
	// first request
	GetOrCreateCode(ctx context.Context, accountID uuid.UUID) (*referral.Code, error)

	// ApplyCode links the account to the code's owner. Returns
	// ErrSelfReferral, ErrCodeNotFound or ErrAlreadyApplied on the
	// corresponding violations.
	ApplyCode(ctx context.Context, accountID uuid.UUID, codeValue string) (*referral.Relationship, error)

	// Qualify marks the referred account's relationship qualified and pays
	// the referrer's commission. Safe to call more than once per account;
	// the commission lands at most once.
	Qualify(ctx context.Context, referredID uuid.UUID, correlationID string) error

	// GetStats aggregates the referrer's program results
	GetStats(ctx context.Context, accountID uuid.UUID) (*referral.Stats, error)
}
