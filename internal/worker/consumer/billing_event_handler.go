package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/shared"
	"github.com/lumagen/credit-engine/internal/platform/messaging/producers"
)

// BillingEventHandler handles incoming billing event messages from Kafka
type BillingEventHandler struct {
	ledgerService   billing.LedgerService
	referralService billing.ReferralService
	producer        producers.DeadLetterPublisher
	logger          *slog.Logger
}

// NewBillingEventHandler creates a new handler
func NewBillingEventHandler(
	logger *slog.Logger,
	ledgerService billing.LedgerService,
	referralService billing.ReferralService,
	producer producers.DeadLetterPublisher,
) *BillingEventHandler {
	return &BillingEventHandler{
		ledgerService:   ledgerService,
		referralService: referralService,
		producer:        producer,
		logger:          logger,
	}
}

// HandleMessage processes Kafka messages. Unparseable or structurally
// invalid events go to the DLQ; transient failures return an error so the
// offset stays uncommitted and the message is redelivered. All billing
// effects are idempotent, so redelivery is safe.
func (h *BillingEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event shared.BillingEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return h.sendToDLQ(ctx, key, value, fmt.Sprintf("failed to unmarshal billing event: %s", err.Error()), err)
	}

	logger := h.logger
	if event.CorrelationID != "" {
		logger = h.logger.With("correlation_id", event.CorrelationID)
	}

	logger.Info("Received billing event",
		"event_id", event.EventID.String(),
		"type", string(event.Type),
		"account_id", event.AccountID.String(),
	)

	switch event.Type {
	case shared.EventPaymentCompleted:
		return h.handlePaymentCompleted(ctx, logger, key, value, &event)
	case shared.EventReferralQualified:
		if err := h.referralService.Qualify(ctx, event.AccountID, event.CorrelationID); err != nil {
			return fmt.Errorf("qualification for account %s failed: %w", event.AccountID.String(), err)
		}
		return nil
	default:
		reason := fmt.Sprintf("unknown billing event type %q", event.Type)
		return h.sendToDLQ(ctx, key, value, reason, shared.ErrUnknownEventType)
	}
}

// handlePaymentCompleted grants the purchased credits and probes referral
// qualification: a first completed payment is what qualifies a referred
// account.
func (h *BillingEventHandler) handlePaymentCompleted(ctx context.Context, logger *slog.Logger, key, value []byte, event *shared.BillingEvent) error {
	if event.PaymentID == "" || event.Credits <= 0 {
		reason := fmt.Sprintf("payment.completed event %s missing payment id or credits", event.EventID.String())
		return h.sendToDLQ(ctx, key, value, reason, fmt.Errorf("invalid payment event"))
	}

	reason := ledger.ReasonPackagePurchase
	expiresAt := event.PeriodEnd
	if event.Source == shared.SourceSubscription {
		reason = ledger.ReasonSubscriptionGrant
	} else {
		// Purchased package credits never expire.
		expiresAt = nil
	}

	idempotencyKey := fmt.Sprintf("payment:%s", event.PaymentID)
	if _, err := h.ledgerService.Grant(ctx, event.AccountID, event.Credits, reason, idempotencyKey, expiresAt, event.CorrelationID); err != nil {
		return fmt.Errorf("grant for payment %s failed: %w", event.PaymentID, err)
	}

	if err := h.referralService.Qualify(ctx, event.AccountID, event.CorrelationID); err != nil {
		// The grant is already idempotent, so letting the redelivery retry
		// the qualification cannot double-credit the payment.
		return fmt.Errorf("referral qualification after payment %s failed: %w", event.PaymentID, err)
	}

	logger.Info("Processed payment event",
		"payment_id", event.PaymentID,
		"account_id", event.AccountID.String(),
		"credits", event.Credits,
		"source", string(event.Source),
	)
	return nil
}

// sendToDLQ forwards a poison message and commits it; if the DLQ itself is
// unavailable the original error is returned so Kafka redelivers.
func (h *BillingEventHandler) sendToDLQ(ctx context.Context, key, value []byte, reason string, cause error) error {
	h.logger.Error("Unprocessable billing event", "reason", reason, "message_key", string(key))

	if h.producer == nil {
		return fmt.Errorf("unprocessable billing event with no DLQ configured: %w", cause)
	}
	if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
		h.logger.Error("Failed to publish billing event to DLQ",
			"dlq_error", dlqErr,
			"original_reason", reason,
			"message_key", string(key),
		)
		return fmt.Errorf("unprocessable billing event and DLQ publish failed: %w", cause)
	}

	h.logger.Info("Published unprocessable billing event to DLQ", "message_key", string(key), "reason", reason)
	return nil // Message handled, commit offset
}
