package billing

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTxExecutor runs transaction functions directly against a nil tx; the
// repository mocks below ignore the tx they are handed.
type fakeTxExecutor struct{}

func (f *fakeTxExecutor) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeTxExecutor) ExecuteSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Insert(ctx context.Context, entry *ledger.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) GetConsume(ctx context.Context, requestID uuid.UUID) (*ledger.Entry, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) GetRefund(ctx context.Context, requestID uuid.UUID) (*ledger.Entry, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*ledger.Entry, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) SumByReason(ctx context.Context, accountID uuid.UUID, reason ledger.Reason) (int64, error) {
	args := m.Called(ctx, accountID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) ListActiveAccountIDs(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockLedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return m
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, task *outbox.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Task, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Task), args.Error(1)
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id int64, status outbox.TaskStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return m
}

var _ ledger.Repository = (*MockLedgerRepository)(nil)
var _ outbox.Repository = (*MockOutboxRepository)(nil)

func newLedgerServiceUnderTest(t *testing.T) (LedgerService, *MockLedgerRepository, *MockOutboxRepository) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ledgerRepo := new(MockLedgerRepository)
	outboxRepo := new(MockOutboxRepository)
	service := NewLedgerService(&fakeTxExecutor{}, ledgerRepo, outboxRepo, logger)
	return service, ledgerRepo, outboxRepo
}

func TestLedgerService_ReserveAndConsume(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	requestID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		service, ledgerRepo, outboxRepo := newLedgerServiceUnderTest(t)

		ledgerRepo.On("Balance", ctx, accountID).Return(int64(10), nil).Once()
		ledgerRepo.On("Insert", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.Kind == ledger.KindConsume && e.Amount == -2 && *e.RelatedRequestID == requestID
		})).Return(nil).Once()
		outboxRepo.On("Create", ctx, mock.MatchedBy(func(task *outbox.Task) bool {
			return task.Kind == outbox.TaskArchiveEntry && task.AccountID == accountID
		})).Return(nil).Once()

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 2, "corr-1")

		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, int64(-2), entry.Amount)
		assert.Equal(t, ledger.ReasonGenerationConsumption, entry.Reason)
		assert.Equal(t, "corr-1", entry.CorrelationID)
		ledgerRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
	})

	t.Run("InsufficientCredits", func(t *testing.T) {
		service, ledgerRepo, outboxRepo := newLedgerServiceUnderTest(t)

		ledgerRepo.On("Balance", ctx, accountID).Return(int64(1), nil).Once()

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 2, "")

		assert.Nil(t, entry)
		assert.ErrorIs(t, err, ledger.ErrInsufficientCredits{})
		var insufficient ledger.ErrInsufficientCredits
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(1), insufficient.Balance)
		assert.Equal(t, int64(2), insufficient.Required)
		ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("AlreadyConsumed", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		ledgerRepo.On("Balance", ctx, accountID).Return(int64(10), nil).Once()
		ledgerRepo.On("Insert", ctx, mock.Anything).Return(ledger.ErrAlreadyConsumed{RequestID: requestID}).Once()

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 2, "")

		assert.Nil(t, entry)
		assert.ErrorIs(t, err, ledger.ErrAlreadyConsumed{RequestID: requestID})
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("ConflictRetriesThenSucceeds", func(t *testing.T) {
		service, ledgerRepo, outboxRepo := newLedgerServiceUnderTest(t)

		ledgerRepo.On("Balance", ctx, accountID).Return(int64(10), nil).Twice()
		ledgerRepo.On("Insert", ctx, mock.Anything).Return(ledger.ErrConflict).Once()
		ledgerRepo.On("Insert", ctx, mock.Anything).Return(nil).Once()
		outboxRepo.On("Create", ctx, mock.Anything).Return(nil).Once()

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 2, "")

		require.NoError(t, err)
		assert.Equal(t, int64(-2), entry.Amount)
		ledgerRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
	})

	t.Run("ConflictExhaustsRetries", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		ledgerRepo.On("Balance", ctx, accountID).Return(int64(10), nil).Times(maxConflictRetries)
		ledgerRepo.On("Insert", ctx, mock.Anything).Return(ledger.ErrConflict).Times(maxConflictRetries)

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 2, "")

		assert.Nil(t, entry)
		assert.ErrorIs(t, err, ledger.ErrConflict)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("NonPositiveCost", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		entry, err := service.ReserveAndConsume(ctx, accountID, requestID, 0, "")

		assert.Nil(t, entry)
		assert.Error(t, err)
		ledgerRepo.AssertNotCalled(t, "Balance", mock.Anything, mock.Anything)
	})
}

func TestLedgerService_Refund(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	requestID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		service, ledgerRepo, outboxRepo := newLedgerServiceUnderTest(t)
		consume := ledger.NewConsume(accountID, requestID, 2, ledger.ReasonGenerationConsumption)

		ledgerRepo.On("GetConsume", ctx, requestID).Return(consume, nil).Once()
		ledgerRepo.On("Insert", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.Kind == ledger.KindRefund && e.Amount == 2 && *e.RelatedRequestID == requestID
		})).Return(nil).Once()
		outboxRepo.On("Create", ctx, mock.Anything).Return(nil).Once()

		entry, err := service.Refund(ctx, requestID, ledger.ReasonGenerationRefund, "corr-2")

		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Amount)
		assert.Equal(t, accountID, entry.AccountID)
		assert.Equal(t, "corr-2", entry.CorrelationID)
		ledgerRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
	})

	t.Run("ConsumeNotFound", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		ledgerRepo.On("GetConsume", ctx, requestID).Return(nil, ledger.ErrConsumeNotFound{RequestID: requestID}).Once()

		entry, err := service.Refund(ctx, requestID, ledger.ReasonGenerationRefund, "")

		assert.Nil(t, entry)
		assert.ErrorIs(t, err, ledger.ErrConsumeNotFound{RequestID: requestID})
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("AlreadyRefunded", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)
		consume := ledger.NewConsume(accountID, requestID, 2, ledger.ReasonGenerationConsumption)

		ledgerRepo.On("GetConsume", ctx, requestID).Return(consume, nil).Once()
		ledgerRepo.On("Insert", ctx, mock.Anything).Return(ledger.ErrAlreadyRefunded{RequestID: requestID}).Once()

		entry, err := service.Refund(ctx, requestID, ledger.ReasonGenerationRefund, "")

		assert.Nil(t, entry)
		assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded{RequestID: requestID})
		ledgerRepo.AssertExpectations(t)
	})
}

func TestLedgerService_Grant(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		service, ledgerRepo, outboxRepo := newLedgerServiceUnderTest(t)
		expiresAt := time.Now().Add(30 * 24 * time.Hour)

		ledgerRepo.On("Insert", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.Kind == ledger.KindGrant && e.Amount == 100 && e.IdempotencyKey == "payment:p1" && e.ExpiresAt != nil
		})).Return(nil).Once()
		outboxRepo.On("Create", ctx, mock.Anything).Return(nil).Once()

		entry, err := service.Grant(ctx, accountID, 100, ledger.ReasonSubscriptionGrant, "payment:p1", &expiresAt, "")

		require.NoError(t, err)
		assert.Equal(t, int64(100), entry.Amount)
		assert.Equal(t, "payment:p1", entry.IdempotencyKey)
		ledgerRepo.AssertExpectations(t)
		outboxRepo.AssertExpectations(t)
	})

	t.Run("ReplayReturnsExistingEntry", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)
		existing := ledger.NewGrant(accountID, 100, ledger.ReasonPackagePurchase, "payment:p2", nil)

		ledgerRepo.On("Insert", ctx, mock.Anything).Return(ledger.ErrAlreadyGranted{IdempotencyKey: "payment:p2"}).Once()
		ledgerRepo.On("GetByIdempotencyKey", ctx, "payment:p2").Return(existing, nil).Once()

		entry, err := service.Grant(ctx, accountID, 100, ledger.ReasonPackagePurchase, "payment:p2", nil, "")

		require.NoError(t, err)
		assert.Equal(t, existing, entry)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("EmptyIdempotencyKey", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		entry, err := service.Grant(ctx, accountID, 100, ledger.ReasonPackagePurchase, "", nil, "")

		assert.Nil(t, entry)
		assert.Error(t, err)
		ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		entry, err := service.Grant(ctx, accountID, -5, ledger.ReasonPackagePurchase, "payment:p3", nil, "")

		assert.Nil(t, entry)
		assert.Error(t, err)
		ledgerRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})
}

func TestLedgerService_GetEntriesByAccountID(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)
		expected := []*ledger.Entry{
			ledger.NewGrant(accountID, 100, ledger.ReasonSubscriptionGrant, "payment:p4", nil),
		}

		ledgerRepo.On("ListByAccountID", ctx, accountID, 20, 0).Return(expected, nil).Once()
		ledgerRepo.On("CountByAccountID", ctx, accountID).Return(int64(1), nil).Once()

		entries, total, err := service.GetEntriesByAccountID(ctx, accountID, 1, 20)

		assert.NoError(t, err)
		assert.Equal(t, expected, entries)
		assert.Equal(t, int64(1), total)
		ledgerRepo.AssertExpectations(t)
	})

	t.Run("DefaultsAppliedForBadPagination", func(t *testing.T) {
		service, ledgerRepo, _ := newLedgerServiceUnderTest(t)

		ledgerRepo.On("ListByAccountID", ctx, accountID, 20, 0).Return([]*ledger.Entry{}, nil).Once()
		ledgerRepo.On("CountByAccountID", ctx, accountID).Return(int64(0), nil).Once()

		_, _, err := service.GetEntriesByAccountID(ctx, accountID, 0, -1)

		assert.NoError(t, err)
		ledgerRepo.AssertExpectations(t)
	})
}
