package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lumagen/credit-engine/internal/domain/referral"
	"github.com/lumagen/credit-engine/internal/platform/persistence"
)

// ReferralRepository implements the referral.Repository interface for PostgreSQL
type ReferralRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewReferralRepository creates a new PostgreSQL referral repository
func NewReferralRepository(logger *slog.Logger, db *persistence.PostgresDB) referral.Repository {
	return &ReferralRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *ReferralRepository) WithTx(tx pgx.Tx) referral.Repository {
	return &ReferralRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateCode stores a new referral code
func (r *ReferralRepository) CreateCode(ctx context.Context, code *referral.Code) error {
	query := `
		INSERT INTO referral_codes (account_id, code, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.querier.Exec(ctx, query, code.AccountID, code.Code, code.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return referral.ErrCodeTaken{Value: code.Code}
		}
		r.logger.Error("Failed to create referral code", "account_id", code.AccountID.String(), "error", err)
		return fmt.Errorf("failed to create referral code: %w", err)
	}

	return nil
}

// GetCodeByAccountID retrieves an account's code; nil when none exists yet
func (r *ReferralRepository) GetCodeByAccountID(ctx context.Context, accountID uuid.UUID) (*referral.Code, error) {
	query := `
		SELECT account_id, code, created_at
		FROM referral_codes
		WHERE account_id = $1
	`

	var code referral.Code
	err := r.querier.QueryRow(ctx, query, accountID).Scan(&code.AccountID, &code.Code, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get referral code by account", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to get referral code by account: %w", err)
	}

	return &code, nil
}

// GetCodeByValue resolves a shared code to its owner
func (r *ReferralRepository) GetCodeByValue(ctx context.Context, value string) (*referral.Code, error) {
	query := `
		SELECT account_id, code, created_at
		FROM referral_codes
		WHERE code = $1
	`

	var code referral.Code
	err := r.querier.QueryRow(ctx, query, value).Scan(&code.AccountID, &code.Code, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referral.ErrCodeNotFound{Value: value}
		}
		r.logger.Error("Failed to get referral code by value", "error", err)
		return nil, fmt.Errorf("failed to get referral code by value: %w", err)
	}

	return &code, nil
}

// CreateRelationship stores a new pending relationship. The unique
// constraint on referred_id enforces one referrer per account.
func (r *ReferralRepository) CreateRelationship(ctx context.Context, rel *referral.Relationship) error {
	query := `
		INSERT INTO referral_relationships (id, referrer_id, referred_id, status, created_at, qualified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query,
		rel.ID,
		rel.ReferrerID,
		rel.ReferredID,
		rel.Status,
		rel.CreatedAt,
		rel.QualifiedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return referral.ErrAlreadyApplied{ReferredID: rel.ReferredID}
		}
		r.logger.Error("Failed to create referral relationship", "referred_id", rel.ReferredID.String(), "error", err)
		return fmt.Errorf("failed to create referral relationship: %w", err)
	}

	return nil
}

// GetRelationshipByID retrieves a relationship by its ID
func (r *ReferralRepository) GetRelationshipByID(ctx context.Context, id uuid.UUID) (*referral.Relationship, error) {
	query := `
		SELECT id, referrer_id, referred_id, status, created_at, qualified_at
		FROM referral_relationships
		WHERE id = $1
	`

	rel, err := scanRelationship(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referral.ErrRelationshipNotFound{ID: id}
		}
		r.logger.Error("Failed to get referral relationship", "relationship_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get referral relationship: %w", err)
	}

	return rel, nil
}

// GetRelationshipByReferredID retrieves the relationship of a referred
// account; nil when the account was never referred
func (r *ReferralRepository) GetRelationshipByReferredID(ctx context.Context, referredID uuid.UUID) (*referral.Relationship, error) {
	query := `
		SELECT id, referrer_id, referred_id, status, created_at, qualified_at
		FROM referral_relationships
		WHERE referred_id = $1
	`

	rel, err := scanRelationship(r.querier.QueryRow(ctx, query, referredID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get referral relationship by referred id", "referred_id", referredID.String(), "error", err)
		return nil, fmt.Errorf("failed to get referral relationship by referred id: %w", err)
	}

	return rel, nil
}

// MarkQualified moves a pending relationship to qualified
func (r *ReferralRepository) MarkQualified(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE referral_relationships
		SET status = $1, qualified_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, referral.StatusQualified, at, id, referral.StatusPending)
	if err != nil {
		r.logger.Error("Failed to mark referral relationship qualified", "relationship_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark referral relationship qualified: %w", err)
	}

	if result.RowsAffected() == 0 {
		return referral.ErrInvalidStatus{ID: id}
	}

	return nil
}

// MarkRewarded moves a qualified relationship to rewarded
func (r *ReferralRepository) MarkRewarded(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE referral_relationships
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := r.querier.Exec(ctx, query, referral.StatusRewarded, id, referral.StatusQualified)
	if err != nil {
		r.logger.Error("Failed to mark referral relationship rewarded", "relationship_id", id.String(), "error", err)
		return fmt.Errorf("failed to mark referral relationship rewarded: %w", err)
	}

	if result.RowsAffected() == 0 {
		return referral.ErrInvalidStatus{ID: id}
	}

	return nil
}

// CountByReferrer returns total, qualified and rewarded counts for a referrer
func (r *ReferralRepository) CountByReferrer(ctx context.Context, referrerID uuid.UUID) (int64, int64, int64, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM referral_relationships
		WHERE referrer_id = $1
	`

	var total, qualified, rewarded int64
	err := r.querier.QueryRow(ctx, query, referrerID, referral.StatusQualified, referral.StatusRewarded).
		Scan(&total, &qualified, &rewarded)
	if err != nil {
		r.logger.Error("Failed to count referral relationships", "referrer_id", referrerID.String(), "error", err)
		return 0, 0, 0, fmt.Errorf("failed to count referral relationships: %w", err)
	}

	return total, qualified, rewarded, nil
}

func scanRelationship(row pgx.Row) (*referral.Relationship, error) {
	var rel referral.Relationship
	err := row.Scan(
		&rel.ID,
		&rel.ReferrerID,
		&rel.ReferredID,
		&rel.Status,
		&rel.CreatedAt,
		&rel.QualifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}
