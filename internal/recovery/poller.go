// Package recovery reconciles a submission whose response was lost. When a
// client times out or disconnects mid-submit, the server still settles the
// request; polling the lifecycle record recovers the outcome without ever
// resubmitting, which would risk a second charge.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lumagen/credit-engine/internal/domain/generation"
)

// ErrStatusUnknown is returned when polling exhausts its budget without
// observing a terminal state. The request may still settle later; callers
// must not resubmit, only resume polling or surface the uncertainty.
var ErrStatusUnknown = errors.New("generation status unknown after polling")

// FetchFunc retrieves the current lifecycle record of the request being
// reconciled, typically through the GET generations endpoint or the
// repository directly.
type FetchFunc func(ctx context.Context) (*generation.Request, error)

const (
	defaultInterval    = 5 * time.Second
	defaultMaxAttempts = 12
	defaultCeiling     = 5 * time.Minute
)

// Poller repeatedly fetches a lifecycle record until it turns terminal
type Poller struct {
	interval    time.Duration
	maxAttempts int
	ceiling     time.Duration
	logger      *slog.Logger
}

// NewPoller creates a poller with the default cadence: a fetch every 5
// seconds, at most 12 attempts, never longer than 5 minutes overall.
func NewPoller(logger *slog.Logger) *Poller {
	return &Poller{
		interval:    defaultInterval,
		maxAttempts: defaultMaxAttempts,
		ceiling:     defaultCeiling,
		logger:      logger,
	}
}

// NewPollerWithCadence creates a poller with an explicit cadence
func NewPollerWithCadence(logger *slog.Logger, interval time.Duration, maxAttempts int, ceiling time.Duration) *Poller {
	return &Poller{
		interval:    interval,
		maxAttempts: maxAttempts,
		ceiling:     ceiling,
		logger:      logger,
	}
}

// Await polls fetch until the record reaches a terminal state or the budget
// runs out. Fetch errors consume an attempt and the loop continues; only
// context cancellation aborts early.
func (p *Poller) Await(ctx context.Context, fetch FetchFunc) (*generation.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, p.ceiling)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		record, err := fetch(ctx)
		if err != nil {
			p.logger.Warn("Reconciliation fetch failed",
				"attempt", attempt,
				"error", err,
			)
		} else if record.Status.Terminal() {
			p.logger.Info("Reconciliation reached terminal state",
				"request_id", record.ID.String(),
				"status", string(record.Status),
				"attempts", attempt,
			)
			return record, nil
		}

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrStatusUnknown
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return nil, ErrStatusUnknown
}
