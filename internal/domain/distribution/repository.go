package distribution

import (
	"context"
)

// Repository persists distribution run audit records
type Repository interface {
	Create(ctx context.Context, run *Run) error
	// GetSuccessfulByPeriodKey returns the fully successful run for a period
	// key, or nil when none exists yet.
	GetSuccessfulByPeriodKey(ctx context.Context, periodKey string) (*Run, error)
	ListByPeriodKey(ctx context.Context, periodKey string) ([]*Run, error)
}
