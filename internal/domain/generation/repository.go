package generation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages lifecycle record persistence. The transition methods
// enforce the forward-only state machine at the write layer: each one
// predicates its update on the expected prior status and reports
// ErrInvalidTransition when the row was not in it.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*Request, error)
	CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error)

	// MarkGenerating moves pending -> generating.
	MarkGenerating(ctx context.Context, id uuid.UUID) error
	// MarkCompleted moves generating -> completed and stores the output image.
	MarkCompleted(ctx context.Context, id uuid.UUID, outputImage string) error
	// MarkFailed moves pending|generating -> failed and stores the error message.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// ListStaleGenerating returns rows stuck in generating since before the
	// cutoff, for the sweeper to settle.
	ListStaleGenerating(ctx context.Context, cutoff time.Time, limit int) ([]*Request, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrRequestNotFound indicates missing lifecycle record
type ErrRequestNotFound struct {
	ID uuid.UUID
}

func (e ErrRequestNotFound) Error() string {
	return "generation request not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrRequestNotFound
func (e ErrRequestNotFound) Is(target error) bool {
	t, ok := target.(ErrRequestNotFound)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrInvalidTransition indicates an attempted move the forward-only
// lifecycle forbids, typically because the row already reached a terminal
// state
type ErrInvalidTransition struct {
	ID uuid.UUID
	To Status
}

func (e ErrInvalidTransition) Error() string {
	return "invalid lifecycle transition to " + string(e.To) + " for request: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrInvalidTransition
func (e ErrInvalidTransition) Is(target error) bool {
	t, ok := target.(ErrInvalidTransition)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID && e.To == t.To
}
