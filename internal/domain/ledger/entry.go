package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind defines the possible credit-affecting event types
type Kind string

const (
	KindGrant   Kind = "GRANT"
	KindConsume Kind = "CONSUME"
	KindRefund  Kind = "REFUND"
	KindExpire  Kind = "EXPIRE"
)

// Reason defines why a ledger entry was written
type Reason string

const (
	ReasonSubscriptionGrant     Reason = "subscription-grant"
	ReasonPackagePurchase       Reason = "package-purchase"
	ReasonReferralReward        Reason = "referral-reward"
	ReasonPeriodicDistribution  Reason = "periodic-distribution"
	ReasonGenerationConsumption Reason = "generation-consumption"
	ReasonGenerationRefund      Reason = "generation-refund"
)

// Entry is an immutable record of a credit-affecting event. Amounts are
// signed credits: grants and refunds are positive, consumptions and
// expirations negative. The balance of an account is the sum of its
// non-expired entries.
type Entry struct {
	ID               uuid.UUID  `json:"id" bson:"id"`
	AccountID        uuid.UUID  `json:"account_id" bson:"account_id"`
	Kind             Kind       `json:"kind" bson:"kind"`
	Amount           int64      `json:"amount" bson:"amount"`
	Reason           Reason     `json:"reason" bson:"reason"`
	RelatedRequestID *uuid.UUID `json:"related_request_id,omitempty" bson:"related_request_id,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	CorrelationID    string     `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
}

// NewGrant builds a GRANT entry. The idempotency key guards against the same
// logical grant being applied twice; expiresAt is set for subscription
// credits, nil for purchased ones.
func NewGrant(accountID uuid.UUID, amount int64, reason Reason, idempotencyKey string, expiresAt *time.Time) *Entry {
	return &Entry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Kind:           KindGrant,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewConsume builds a CONSUME entry for a generation request. The related
// request id carries the at-most-once-charge invariant.
func NewConsume(accountID, requestID uuid.UUID, cost int64, reason Reason) *Entry {
	rid := requestID
	return &Entry{
		ID:               uuid.New(),
		AccountID:        accountID,
		Kind:             KindConsume,
		Amount:           -cost,
		Reason:           reason,
		RelatedRequestID: &rid,
		CreatedAt:        time.Now().UTC(),
	}
}

// NewRefund builds the REFUND entry matching a prior CONSUME. The amount is
// always the negation of the consume amount.
func NewRefund(consume *Entry, reason Reason) *Entry {
	return &Entry{
		ID:               uuid.New(),
		AccountID:        consume.AccountID,
		Kind:             KindRefund,
		Amount:           -consume.Amount,
		Reason:           reason,
		RelatedRequestID: consume.RelatedRequestID,
		CreatedAt:        time.Now().UTC(),
	}
}
