package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository manages settlement outbox persistence
type Repository interface {
	Create(ctx context.Context, task *Task) error
	GetPending(ctx context.Context, limit int) ([]*Task, error)
	UpdateStatus(ctx context.Context, id int64, status TaskStatus) error
	IncrementAttempts(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) Repository
}

// ErrTaskNotFound indicates missing outbox task
type ErrTaskNotFound struct {
	ID int64
}

func (e ErrTaskNotFound) Error() string {
	return "outbox task not found"
}

// Is implements the errors.Is interface for ErrTaskNotFound
func (e ErrTaskNotFound) Is(target error) bool {
	t, ok := target.(ErrTaskNotFound)
	if !ok {
		return false
	}
	if t.ID == 0 {
		return true
	}
	return e.ID == t.ID
}
