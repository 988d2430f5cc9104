package generation

import (
	"time"

	"github.com/google/uuid"
)

// Status defines the lifecycle states of a generation request
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is permitted out of s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the forward-only lifecycle permits moving
// from s to next. The write layer enforces this; clients only ever read.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusGenerating || next == StatusFailed
	case StatusGenerating:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Role identifies who a generation belongs to within a project conversation
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Request is the persisted lifecycle record of one generation attempt. It is
// created in pending before any external call and only ever moves forward;
// the orchestrator is the sole writer.
type Request struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	ModelID      string    `json:"model_id"`
	CreditCost   int64     `json:"credit_cost"`
	Prompt       string    `json:"prompt"`
	OutputImage  string    `json:"output_image,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewRequest creates a pending lifecycle record for a priced submission
func NewRequest(accountID, projectID uuid.UUID, modelID, prompt string, creditCost int64) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:         uuid.New(),
		AccountID:  accountID,
		ProjectID:  projectID,
		Role:       RoleAssistant,
		Status:     StatusPending,
		ModelID:    modelID,
		CreditCost: creditCost,
		Prompt:     prompt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
