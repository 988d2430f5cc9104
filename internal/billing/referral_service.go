package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/referral"
)

// codeGenerationAttempts bounds retries on code value collisions
const codeGenerationAttempts = 5

// ReferralServiceImpl implements the ReferralService interface
type ReferralServiceImpl struct {
	referralRepo      referral.Repository
	ledgerRepo        ledger.Repository
	ledgerService     LedgerService
	commissionCredits int64
	logger            *slog.Logger
}

// NewReferralService creates a new referral service
func NewReferralService(
	cfg *config.ReferralConfig,
	referralRepo referral.Repository,
	ledgerRepo ledger.Repository,
	ledgerService LedgerService,
	logger *slog.Logger,
) ReferralService {
	return &ReferralServiceImpl{
		referralRepo:      referralRepo,
		ledgerRepo:        ledgerRepo,
		ledgerService:     ledgerService,
		commissionCredits: cfg.CommissionCredits,
		logger:            logger,
	}
}

// GetOrCreateCode returns the account's code, creating it on first request
func (s *ReferralServiceImpl) GetOrCreateCode(ctx context.Context, accountID uuid.UUID) (*referral.Code, error) {
	existing, err := s.referralRepo.GetCodeByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		value, err := referral.GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}
		code := &referral.Code{
			AccountID: accountID,
			Code:      value,
			CreatedAt: time.Now().UTC(),
		}
		err = s.referralRepo.CreateCode(ctx, code)
		if err == nil {
			s.logger.Info("Created referral code", "account_id", accountID.String())
			return code, nil
		}
		if !errors.Is(err, referral.ErrCodeTaken{}) {
			return nil, err
		}
		// Collision can also mean a concurrent create for the same account;
		// re-reading resolves both cases.
		existing, getErr := s.referralRepo.GetCodeByAccountID(ctx, accountID)
		if getErr != nil {
			return nil, getErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("failed to create referral code after %d attempts", codeGenerationAttempts)
}

// ApplyCode links the calling account to the code's owner
func (s *ReferralServiceImpl) ApplyCode(ctx context.Context, accountID uuid.UUID, codeValue string) (*referral.Relationship, error) {
	code, err := s.referralRepo.GetCodeByValue(ctx, codeValue)
	if err != nil {
		return nil, err
	}
	if code.AccountID == accountID {
		return nil, referral.ErrSelfReferral{AccountID: accountID}
	}

	rel := referral.NewRelationship(code.AccountID, accountID)
	if err := s.referralRepo.CreateRelationship(ctx, rel); err != nil {
		return nil, err
	}

	s.logger.Info("Applied referral code",
		"referrer_id", code.AccountID.String(),
		"referred_id", accountID.String(),
	)
	return rel, nil
}

// Qualify settles the referred account's relationship: mark it qualified and
// pay the referrer's commission. The grant idempotency key is derived from
// the relationship id, so replays and the qualified/rewarded status races
// all collapse to a single commission.
func (s *ReferralServiceImpl) Qualify(ctx context.Context, referredID uuid.UUID, correlationID string) error {
	logger := s.logger
	if correlationID != "" {
		logger = s.logger.With("correlation_id", correlationID)
	}

	rel, err := s.referralRepo.GetRelationshipByReferredID(ctx, referredID)
	if err != nil {
		return err
	}
	if rel == nil {
		logger.Debug("Account has no referral relationship, nothing to qualify", "referred_id", referredID.String())
		return nil
	}
	if rel.Status == referral.StatusRewarded {
		return nil
	}

	if rel.Status == referral.StatusPending {
		err := s.referralRepo.MarkQualified(ctx, rel.ID, time.Now().UTC())
		if err != nil && !errors.Is(err, referral.ErrInvalidStatus{}) {
			return err
		}
	}

	idempotencyKey := fmt.Sprintf("referral:%s", rel.ID.String())
	if _, err := s.ledgerService.Grant(ctx, rel.ReferrerID, s.commissionCredits, ledger.ReasonReferralReward, idempotencyKey, nil, correlationID); err != nil {
		return fmt.Errorf("failed to grant referral commission for relationship %s: %w", rel.ID.String(), err)
	}

	err = s.referralRepo.MarkRewarded(ctx, rel.ID)
	if err != nil && !errors.Is(err, referral.ErrInvalidStatus{}) {
		return err
	}

	logger.Info("Referral qualified and commission granted",
		"referrer_id", rel.ReferrerID.String(),
		"referred_id", referredID.String(),
		"commission", s.commissionCredits,
	)
	return nil
}

// GetStats aggregates the referrer's program results
func (s *ReferralServiceImpl) GetStats(ctx context.Context, accountID uuid.UUID) (*referral.Stats, error) {
	total, qualified, rewarded, err := s.referralRepo.CountByReferrer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	earned, err := s.ledgerRepo.SumByReason(ctx, accountID, ledger.ReasonReferralReward)
	if err != nil {
		return nil, err
	}
	return &referral.Stats{
		TotalReferred: total,
		Qualified:     qualified,
		Rewarded:      rewarded,
		CreditsEarned: earned,
	}, nil
}
