package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownEventType = errors.New("unknown billing event type")

// BillingEventType defines the billing events consumed from the queue
type BillingEventType string

const (
	// EventPaymentCompleted is the effect of a verified payment-provider
	// webhook: credits to grant to the paying account.
	EventPaymentCompleted BillingEventType = "payment.completed"
	// EventReferralQualified is the injected qualification trigger for a
	// referred account.
	EventReferralQualified BillingEventType = "referral.qualified"
)

// CreditSource distinguishes how granted credits expire
type CreditSource string

const (
	// SourcePackage credits never expire.
	SourcePackage CreditSource = "package"
	// SourceSubscription credits expire at period end.
	SourceSubscription CreditSource = "subscription"
)

// BillingEvent is the queue message for billing effects. PaymentID, Credits,
// Source and PeriodEnd are set on payment.completed; referral.qualified only
// carries the referred AccountID.
type BillingEvent struct {
	EventID       uuid.UUID        `json:"event_id"`
	Type          BillingEventType `json:"type"`
	AccountID     uuid.UUID        `json:"account_id"`
	PaymentID     string           `json:"payment_id,omitempty"`
	Credits       int64            `json:"credits,omitempty"`
	Source        CreditSource     `json:"source,omitempty"`
	PeriodEnd     *time.Time       `json:"period_end,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}
