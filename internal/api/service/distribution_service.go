package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/billing"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/distribution"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/panjf2000/ants/v2"
)

// DistributionServiceImpl implements the DistributionService interface
type DistributionServiceImpl struct {
	distributionRepo distribution.Repository
	ledgerRepo       ledger.Repository
	ledgerService    billing.LedgerService
	pool             *ants.Pool
	credits          int64
	activityWindow   time.Duration
	logger           *slog.Logger
}

// NewDistributionService creates a new distribution service with a bounded
// grant worker pool
func NewDistributionService(
	cfg *config.DistributionConfig,
	distributionRepo distribution.Repository,
	ledgerRepo ledger.Repository,
	ledgerService billing.LedgerService,
	logger *slog.Logger,
) (*DistributionServiceImpl, error) {
	pool, err := ants.NewPool(cfg.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution worker pool: %w", err)
	}

	return &DistributionServiceImpl{
		distributionRepo: distributionRepo,
		ledgerRepo:       ledgerRepo,
		ledgerService:    ledgerService,
		pool:             pool,
		credits:          cfg.Credits,
		activityWindow:   cfg.ActivityWindow,
		logger:           logger,
	}, nil
}

// Run distributes the period's credits to every eligible account. Grants fan
// out on the pool; a per-account failure is counted and never aborts the
// run. Re-running a period is safe twice over: a fully successful prior run
// short-circuits, and the per-account idempotency keys make replayed grants
// no-ops.
func (s *DistributionServiceImpl) Run(ctx context.Context, periodKey string) (*distribution.Run, error) {
	if periodKey == "" {
		return nil, fmt.Errorf("distribution period key is required")
	}

	prior, err := s.distributionRepo.GetSuccessfulByPeriodKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.logger.Info("Distribution already completed for period, skipping",
			"period_key", periodKey,
			"run_id", prior.ID.String(),
		)
		return prior, nil
	}

	since := time.Now().UTC().Add(-s.activityWindow)
	accountIDs, err := s.ledgerRepo.ListActiveAccountIDs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible accounts: %w", err)
	}

	startedAt := time.Now().UTC()
	s.logger.Info("Starting distribution run",
		"period_key", periodKey,
		"eligible_accounts", len(accountIDs),
		"credits_per_account", s.credits,
	)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
		failed    int
	)

	for _, accountID := range accountIDs {
		wg.Add(1)
		accountID := accountID
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			key := fmt.Sprintf("distribution:%s:%s", periodKey, accountID.String())
			_, err := s.ledgerService.Grant(ctx, accountID, s.credits, ledger.ReasonPeriodicDistribution, key, nil, "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Error("Distribution grant failed",
					"period_key", periodKey,
					"account_id", accountID.String(),
					"error", err,
				)
				return
			}
			processed++
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failed++
			mu.Unlock()
			s.logger.Error("Failed to submit distribution grant to worker pool",
				"period_key", periodKey,
				"account_id", accountID.String(),
				"error", submitErr,
			)
		}
	}
	wg.Wait()

	run := &distribution.Run{
		ID:             uuid.New(),
		PeriodKey:      periodKey,
		UsersCount:     len(accountIDs),
		ProcessedCount: processed,
		ErrorCount:     failed,
		StartedAt:      startedAt,
		CompletedAt:    time.Now().UTC(),
	}
	if err := s.distributionRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("distribution executed but run record failed: %w", err)
	}

	s.logger.Info("Distribution run finished",
		"period_key", periodKey,
		"processed", processed,
		"failed", failed,
	)
	return run, nil
}

// Shutdown releases the grant worker pool
func (s *DistributionServiceImpl) Shutdown() {
	s.logger.Info("Shutting down distribution worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}
