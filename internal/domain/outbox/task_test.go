package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumagen/credit-engine/internal/domain/ledger"
)

func TestNewArchiveTask(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		requestID := uuid.New()
		entry := &ledger.Entry{
			ID:               uuid.New(),
			AccountID:        uuid.New(),
			Kind:             ledger.KindConsume,
			Amount:           -2,
			Reason:           ledger.ReasonGenerationConsumption,
			RelatedRequestID: &requestID,
			CreatedAt:        time.Now().UTC().Add(-time.Minute),
		}

		beforeCreation := time.Now().UTC()
		task, err := NewArchiveTask(entry)
		afterCreation := time.Now().UTC()

		require.NoError(t, err)
		require.NotNil(t, task)

		assert.Equal(t, TaskArchiveEntry, task.Kind)
		assert.Equal(t, entry.AccountID, task.AccountID)
		assert.Equal(t, entry.ID, task.RefID)
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Equal(t, 0, task.Attempts)
		assert.Nil(t, task.LastAttemptAt)
		assert.WithinDuration(t, beforeCreation, task.CreatedAt, afterCreation.Sub(beforeCreation)+time.Millisecond)

		// The payload must round-trip the full entry
		var decoded ledger.Entry
		err = json.Unmarshal(task.Payload, &decoded)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, decoded.ID)
		assert.Equal(t, entry.Amount, decoded.Amount)
		require.NotNil(t, decoded.RelatedRequestID)
		assert.Equal(t, requestID, *decoded.RelatedRequestID)
	})
}

func TestNewRefundTask(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		accountID := uuid.New()
		requestID := uuid.New()

		task, err := NewRefundTask(accountID, requestID, ledger.ReasonGenerationRefund)

		require.NoError(t, err)
		require.NotNil(t, task)

		assert.Equal(t, TaskRetryRefund, task.Kind)
		assert.Equal(t, accountID, task.AccountID)
		assert.Equal(t, requestID, task.RefID)
		assert.Equal(t, TaskStatusPending, task.Status)

		var payload RefundPayload
		err = json.Unmarshal(task.Payload, &payload)
		require.NoError(t, err)
		assert.Equal(t, accountID, payload.AccountID)
		assert.Equal(t, requestID, payload.RequestID)
		assert.Equal(t, ledger.ReasonGenerationRefund, payload.Reason)
	})
}
