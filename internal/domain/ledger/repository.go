package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrConflict indicates a transient storage conflict (serialization failure
// or a lost insert race). Callers retry with backoff; after exhaustion they
// must re-query ledger state before retrying a consume.
var ErrConflict = errors.New("ledger storage conflict")

// Repository manages ledger entry persistence. Insert is append-only; there
// is no update path for entries.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error

	// Balance sums the non-expired entries of an account as of now.
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)

	// GetConsume returns the CONSUME entry for a request id, or
	// ErrConsumeNotFound when none exists.
	GetConsume(ctx context.Context, requestID uuid.UUID) (*Entry, error)

	// GetRefund returns the REFUND entry for a request id, or
	// ErrRefundNotFound when none exists.
	GetRefund(ctx context.Context, requestID uuid.UUID) (*Entry, error)

	// GetByIdempotencyKey returns nil when no entry carries the key.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Entry, error)

	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error)

	// SumByReason totals entry amounts of one reason for an account,
	// e.g. commission earned through referral rewards.
	SumByReason(ctx context.Context, accountID uuid.UUID, reason Reason) (int64, error)

	// ListActiveAccountIDs returns distinct account ids with at least one
	// entry newer than since. This is the distribution eligibility set.
	ListActiveAccountIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrInsufficientCredits indicates the account balance cannot cover a consume
type ErrInsufficientCredits struct {
	AccountID uuid.UUID
	Balance   int64
	Required  int64
}

func (e ErrInsufficientCredits) Error() string {
	return "insufficient credits for account: " + e.AccountID.String()
}

// Is implements the errors.Is interface for ErrInsufficientCredits
func (e ErrInsufficientCredits) Is(target error) bool {
	t, ok := target.(ErrInsufficientCredits)
	if !ok {
		return false
	}
	if t.AccountID == uuid.Nil {
		return true
	}
	return e.AccountID == t.AccountID
}

// ErrAlreadyConsumed indicates a CONSUME entry already exists for the request
type ErrAlreadyConsumed struct {
	RequestID uuid.UUID
}

func (e ErrAlreadyConsumed) Error() string {
	return "request already consumed: " + e.RequestID.String()
}

// Is implements the errors.Is interface for ErrAlreadyConsumed
func (e ErrAlreadyConsumed) Is(target error) bool {
	t, ok := target.(ErrAlreadyConsumed)
	if !ok {
		return false
	}
	if t.RequestID == uuid.Nil {
		return true
	}
	return e.RequestID == t.RequestID
}

// ErrAlreadyRefunded indicates a REFUND entry already exists for the request
type ErrAlreadyRefunded struct {
	RequestID uuid.UUID
}

func (e ErrAlreadyRefunded) Error() string {
	return "request already refunded: " + e.RequestID.String()
}

// Is implements the errors.Is interface for ErrAlreadyRefunded
func (e ErrAlreadyRefunded) Is(target error) bool {
	t, ok := target.(ErrAlreadyRefunded)
	if !ok {
		return false
	}
	if t.RequestID == uuid.Nil {
		return true
	}
	return e.RequestID == t.RequestID
}

// ErrConsumeNotFound indicates no CONSUME entry exists for the request,
// so there is nothing to refund
type ErrConsumeNotFound struct {
	RequestID uuid.UUID
}

func (e ErrConsumeNotFound) Error() string {
	return "no consume entry for request: " + e.RequestID.String()
}

// Is implements the errors.Is interface for ErrConsumeNotFound
func (e ErrConsumeNotFound) Is(target error) bool {
	t, ok := target.(ErrConsumeNotFound)
	if !ok {
		return false
	}
	if t.RequestID == uuid.Nil {
		return true
	}
	return e.RequestID == t.RequestID
}

// ErrRefundNotFound indicates no REFUND entry exists for the request
type ErrRefundNotFound struct {
	RequestID uuid.UUID
}

func (e ErrRefundNotFound) Error() string {
	return "no refund entry for request: " + e.RequestID.String()
}

// Is implements the errors.Is interface for ErrRefundNotFound
func (e ErrRefundNotFound) Is(target error) bool {
	t, ok := target.(ErrRefundNotFound)
	if !ok {
		return false
	}
	if t.RequestID == uuid.Nil {
		return true
	}
	return e.RequestID == t.RequestID
}

// ErrAlreadyGranted indicates a GRANT with the same idempotency key exists
type ErrAlreadyGranted struct {
	IdempotencyKey string
}

func (e ErrAlreadyGranted) Error() string {
	return "grant already applied: " + e.IdempotencyKey
}

// Is implements the errors.Is interface for ErrAlreadyGranted
func (e ErrAlreadyGranted) Is(target error) bool {
	t, ok := target.(ErrAlreadyGranted)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}
