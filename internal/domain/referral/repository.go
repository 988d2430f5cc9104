package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages referral codes and relationships
type Repository interface {
	// CreateCode stores a new code; ErrCodeTaken when the value collides.
	CreateCode(ctx context.Context, code *Code) error
	// GetCodeByAccountID returns nil when the account has no code yet.
	GetCodeByAccountID(ctx context.Context, accountID uuid.UUID) (*Code, error)
	// GetCodeByValue resolves a shared code to its owner; ErrCodeNotFound
	// when the code does not exist.
	GetCodeByValue(ctx context.Context, value string) (*Code, error)

	CreateRelationship(ctx context.Context, rel *Relationship) error
	GetRelationshipByID(ctx context.Context, id uuid.UUID) (*Relationship, error)
	// GetRelationshipByReferredID returns nil when the account was never
	// referred.
	GetRelationshipByReferredID(ctx context.Context, referredID uuid.UUID) (*Relationship, error)

	// MarkQualified moves pending -> qualified; ErrInvalidStatus when the
	// relationship is not pending.
	MarkQualified(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRewarded moves qualified -> rewarded.
	MarkRewarded(ctx context.Context, id uuid.UUID) error

	// CountByReferrer returns total, qualified and rewarded relationship
	// counts for a referrer.
	CountByReferrer(ctx context.Context, referrerID uuid.UUID) (total, qualified, rewarded int64, err error)

	WithTx(tx pgx.Tx) Repository
}

// ErrCodeNotFound indicates an unknown referral code
type ErrCodeNotFound struct {
	Value string
}

func (e ErrCodeNotFound) Error() string {
	return "referral code not found: " + e.Value
}

// Is implements the errors.Is interface for ErrCodeNotFound
func (e ErrCodeNotFound) Is(target error) bool {
	t, ok := target.(ErrCodeNotFound)
	if !ok {
		return false
	}
	if t.Value == "" {
		return true
	}
	return e.Value == t.Value
}

// ErrCodeTaken indicates a collision on the generated code value
type ErrCodeTaken struct {
	Value string
}

func (e ErrCodeTaken) Error() string {
	return "referral code already taken: " + e.Value
}

// Is implements the errors.Is interface for ErrCodeTaken
func (e ErrCodeTaken) Is(target error) bool {
	t, ok := target.(ErrCodeTaken)
	if !ok {
		return false
	}
	if t.Value == "" {
		return true
	}
	return e.Value == t.Value
}

// ErrSelfReferral indicates an account applying its own code
type ErrSelfReferral struct {
	AccountID uuid.UUID
}

func (e ErrSelfReferral) Error() string {
	return "account cannot refer itself: " + e.AccountID.String()
}

// Is implements the errors.Is interface for ErrSelfReferral
func (e ErrSelfReferral) Is(target error) bool {
	t, ok := target.(ErrSelfReferral)
	if !ok {
		return false
	}
	if t.AccountID == uuid.Nil {
		return true
	}
	return e.AccountID == t.AccountID
}

// ErrAlreadyApplied indicates the referred account already has a relationship
type ErrAlreadyApplied struct {
	ReferredID uuid.UUID
}

func (e ErrAlreadyApplied) Error() string {
	return "account already applied a referral code: " + e.ReferredID.String()
}

// Is implements the errors.Is interface for ErrAlreadyApplied
func (e ErrAlreadyApplied) Is(target error) bool {
	t, ok := target.(ErrAlreadyApplied)
	if !ok {
		return false
	}
	if t.ReferredID == uuid.Nil {
		return true
	}
	return e.ReferredID == t.ReferredID
}

// ErrRelationshipNotFound indicates missing referral relationship
type ErrRelationshipNotFound struct {
	ID uuid.UUID
}

func (e ErrRelationshipNotFound) Error() string {
	return "referral relationship not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrRelationshipNotFound
func (e ErrRelationshipNotFound) Is(target error) bool {
	t, ok := target.(ErrRelationshipNotFound)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrInvalidStatus indicates a relationship transition out of order, e.g.
// qualifying an already rewarded relationship
type ErrInvalidStatus struct {
	ID uuid.UUID
}

func (e ErrInvalidStatus) Error() string {
	return "referral relationship in unexpected status: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrInvalidStatus
func (e ErrInvalidStatus) Is(target error) bool {
	t, ok := target.(ErrInvalidStatus)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}
