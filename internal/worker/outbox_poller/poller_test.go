package outbox_poller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lumagen/credit-engine/internal/config"
	"github.com/lumagen/credit-engine/internal/domain/ledger"
	"github.com/lumagen/credit-engine/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, task *outbox.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Task, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Task), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status outbox.TaskStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	return m
}

// MockTaskProcessor for testing
type MockTaskProcessor struct {
	mock.Mock
}

func (m *MockTaskProcessor) Process(ctx context.Context, task *outbox.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func TestPoller_ProcessPendingTasks(t *testing.T) {
	logger := slog.Default()

	cfg := &config.OutboxConfig{
		PollingInterval:  time.Second,
		BatchSize:        10,
		MaxRetryAttempts: 3,
	}

	entry := ledger.Entry{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Kind:      ledger.KindConsume,
		Amount:    -2,
	}
	entryJSON, err := json.Marshal(entry)
	assert.NoError(t, err)

	archiveTask := &outbox.Task{
		ID:        1,
		Kind:      outbox.TaskArchiveEntry,
		AccountID: entry.AccountID,
		RefID:     entry.ID,
		Status:    outbox.TaskStatusPending,
		Payload:   entryJSON,
		Attempts:  0,
		CreatedAt: time.Now(),
	}

	refundPayload, err := json.Marshal(outbox.RefundPayload{
		AccountID: entry.AccountID,
		RequestID: uuid.New(),
		Reason:    ledger.ReasonGenerationRefund,
	})
	assert.NoError(t, err)

	refundTask := &outbox.Task{
		ID:        2,
		Kind:      outbox.TaskRetryRefund,
		AccountID: entry.AccountID,
		RefID:     uuid.New(),
		Status:    outbox.TaskStatusPending,
		Payload:   refundPayload,
		Attempts:  0,
		CreatedAt: time.Now(),
	}

	tests := []struct {
		name          string
		setupMocks    func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor)
		expectedError string
	}{
		{
			name: "successful processing routes tasks by kind",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Task{archiveTask, refundTask}, nil).Once()
				archive.On("Process", mock.Anything, archiveTask).Return(nil).Once()
				refund.On("Process", mock.Anything, refundTask).Return(nil).Once()
				repo.On("UpdateStatus", mock.Anything, int64(1), outbox.TaskStatusProcessed).Return(nil).Once()
				repo.On("UpdateStatus", mock.Anything, int64(2), outbox.TaskStatusProcessed).Return(nil).Once()
			},
		},
		{
			name: "error getting pending tasks",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				repo.On("GetPending", mock.Anything, 10).Return(nil, errors.New("db error")).Once()
			},
			expectedError: "failed to get pending outbox tasks",
		},
		{
			name: "no pending tasks",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Task{}, nil).Once()
			},
		},
		{
			name: "failed task increments attempts and stays pending",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Task{archiveTask, refundTask}, nil).Once()
				archive.On("Process", mock.Anything, archiveTask).Return(errors.New("archive unavailable")).Once()
				repo.On("IncrementAttempts", mock.Anything, int64(1)).Return(nil).Once()
				refund.On("Process", mock.Anything, refundTask).Return(nil).Once()
				repo.On("UpdateStatus", mock.Anything, int64(2), outbox.TaskStatusProcessed).Return(nil).Once()
			},
		},
		{
			name: "task at max attempts is marked FAILED",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				exhausted := *refundTask
				exhausted.Attempts = 2
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Task{&exhausted}, nil).Once()
				refund.On("Process", mock.Anything, &exhausted).Return(errors.New("still failing")).Once()
				repo.On("IncrementAttempts", mock.Anything, int64(2)).Return(nil).Once()
				repo.On("UpdateStatus", mock.Anything, int64(2), outbox.TaskStatusFailed).Return(nil).Once()
			},
		},
		{
			name: "unknown task kind counts as failure",
			setupMocks: func(repo *MockOutboxRepo, archive, refund *MockTaskProcessor) {
				unknown := &outbox.Task{ID: 9, Kind: "MYSTERY", Status: outbox.TaskStatusPending}
				repo.On("GetPending", mock.Anything, 10).Return([]*outbox.Task{unknown}, nil).Once()
				repo.On("IncrementAttempts", mock.Anything, int64(9)).Return(nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockOutboxRepo{}
			mockArchive := &MockTaskProcessor{}
			mockRefund := &MockTaskProcessor{}
			poller := NewPoller(cfg, mockRepo, mockArchive, mockRefund, logger)

			tt.setupMocks(mockRepo, mockArchive, mockRefund)

			err := poller.processPendingTasks(context.Background())
			if tt.expectedError != "" {
				assert.ErrorContains(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			mockRepo.AssertExpectations(t)
			mockArchive.AssertExpectations(t)
			mockRefund.AssertExpectations(t)
		})
	}
}

func TestPoller_StartStopsOnContextCancel(t *testing.T) {
	logger := slog.Default()
	cfg := &config.OutboxConfig{
		PollingInterval:  10 * time.Millisecond,
		BatchSize:        5,
		MaxRetryAttempts: 3,
	}

	mockRepo := &MockOutboxRepo{}
	mockRepo.On("GetPending", mock.Anything, 5).Return([]*outbox.Task{}, nil).Maybe()

	poller := NewPoller(cfg, mockRepo, &MockTaskProcessor{}, &MockTaskProcessor{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
