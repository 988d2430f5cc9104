// Package sweeper settles generation requests orphaned by a crash. A row
// stuck in generating past the submit budget can never complete; it is
// failed and its credits returned.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
)

const (
	sweepInterval = time.Minute
	sweepBatch    = 100

	staleMessage = "generation interrupted by a service restart"
)

// Sweeper fails stale generating rows and refunds their charge
type Sweeper struct {
	generationRepo generation.Repository
	ledgerService  billing.LedgerService
	outboxRepo     outbox.Repository
	staleAfter     time.Duration
	logger         *slog.Logger
}

func NewSweeper(
	cfg *config.GenerationConfig,
	generationRepo generation.Repository,
	ledgerService billing.LedgerService,
	outboxRepo outbox.Repository,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		generationRepo: generationRepo,
		ledgerService:  ledgerService,
		outboxRepo:     outboxRepo,
		staleAfter:     cfg.StaleAfter,
		logger:         logger,
	}
}

// Start begins sweeping until context is canceled
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting stale generation sweeper",
		"sweep_interval", sweepInterval.String(),
		"stale_after", s.staleAfter.String(),
	)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale generation sweeper stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("Error during stale generation sweep", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.generationRepo.ListStaleGenerating(ctx, cutoff, sweepBatch)
	if err != nil {
		return fmt.Errorf("failed to list stale generating requests: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.Warn("Found stale generating requests", "count", len(stale))

	for _, req := range stale {
		s.settle(ctx, req)
	}
	return nil
}

// settle fails the row and returns its credits. The status-predicated
// update makes the sweeper safe to race with a still-running orchestrator:
// whoever transitions the row first wins, the other sees
// ErrInvalidTransition and stops.
func (s *Sweeper) settle(ctx context.Context, req *generation.Request) {
	if err := s.generationRepo.MarkFailed(ctx, req.ID, staleMessage); err != nil {
		if errors.Is(err, generation.ErrInvalidTransition{}) {
			s.logger.Debug("Stale request settled concurrently, skipping", "request_id", req.ID.String())
			return
		}
		s.logger.Error("Failed to fail stale request", "request_id", req.ID.String(), "error", err)
		return
	}

	s.logger.Info("Failed stale generating request",
		"request_id", req.ID.String(),
		"account_id", req.AccountID.String(),
		"age", time.Since(req.UpdatedAt).String(),
	)

	_, err := s.ledgerService.Refund(ctx, req.ID, ledger.ReasonGenerationRefund, "")
	if err == nil || errors.Is(err, ledger.ErrAlreadyRefunded{}) {
		return
	}

	s.logger.Error("Inline refund for stale request failed, enqueueing retry task",
		"request_id", req.ID.String(),
		"error", err,
	)
	task, taskErr := outbox.NewRefundTask(req.AccountID, req.ID, ledger.ReasonGenerationRefund)
	if taskErr != nil {
		s.logger.Error("Failed to build refund retry task", "request_id", req.ID.String(), "error", taskErr)
		return
	}
	if createErr := s.outboxRepo.Create(ctx, task); createErr != nil {
		s.logger.Error("Failed to enqueue refund retry task, credits remain unsettled",
			"request_id", req.ID.String(),
			"account_id", req.AccountID.String(),
			"error", createErr,
		)
	}
}
