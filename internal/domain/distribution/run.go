package distribution

import (
	"time"

	"github.com/google/uuid"
)

// Run is the audit record of one periodic distribution execution. At most
// one fully successful run may exist per period key; partially failed runs
// are recorded with their error count and may be retried.
type Run struct {
	ID             uuid.UUID `json:"id"`
	PeriodKey      string    `json:"period_key"`
	UsersCount     int       `json:"users_count"`
	ProcessedCount int       `json:"processed_count"`
	ErrorCount     int       `json:"error_count"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Successful reports whether the run granted every eligible account
func (r *Run) Successful() bool {
	return r.ErrorCount == 0
}
