package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
)

// TaskKind defines settlement outbox task types
type TaskKind string

const (
	// TaskArchiveEntry carries a settled ledger entry to the audit archive.
	TaskArchiveEntry TaskKind = "ARCHIVE_ENTRY"
	// TaskRetryRefund carries a refund that could not be applied inline and
	// must be retried until it lands.
	TaskRetryRefund TaskKind = "RETRY_REFUND"
)

// TaskStatus defines task processing states
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusProcessed TaskStatus = "PROCESSED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Task is one settlement outbox row. Archive tasks are written in the same
// transaction as their ledger entry; refund tasks are written when an inline
// refund fails and money is still owed to the user.
type Task struct {
	ID            int64           `json:"id"`
	Kind          TaskKind        `json:"kind"`
	AccountID     uuid.UUID       `json:"account_id"`
	RefID         uuid.UUID       `json:"ref_id"` // entry id or request id
	Payload       json.RawMessage `json:"payload"`
	Status        TaskStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// RefundPayload is the payload of a TaskRetryRefund task
type RefundPayload struct {
	AccountID uuid.UUID     `json:"account_id"`
	RequestID uuid.UUID     `json:"request_id"`
	Reason    ledger.Reason `json:"reason"`
}

// NewArchiveTask wraps a settled ledger entry for archival
func NewArchiveTask(entry *ledger.Entry) (*Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return &Task{
		Kind:      TaskArchiveEntry,
		AccountID: entry.AccountID,
		RefID:     entry.ID,
		Payload:   payload,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewRefundTask enqueues a refund for asynchronous retry
func NewRefundTask(accountID, requestID uuid.UUID, reason ledger.Reason) (*Task, error) {
	payload, err := json.Marshal(RefundPayload{
		AccountID: accountID,
		RequestID: requestID,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	return &Task{
		Kind:      TaskRetryRefund,
		AccountID: accountID,
		RefID:     requestID,
		Payload:   payload,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}
