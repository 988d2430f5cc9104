package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/domain/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(status generation.Status) *generation.Request {
	req := generation.NewRequest(uuid.New(), uuid.New(), "luma-standard", "lost response", 2)
	req.Status = status
	return req
}

func TestPoller_Await(t *testing.T) {
	logger := slog.Default()

	t.Run("TerminalOnFirstFetch", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, time.Millisecond, 3, time.Second)
		completed := testRecord(generation.StatusCompleted)

		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			return completed, nil
		})

		require.NoError(t, err)
		assert.Equal(t, completed, record)
	})

	t.Run("NonTerminalThenTerminal", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, time.Millisecond, 5, time.Second)
		states := []*generation.Request{
			testRecord(generation.StatusPending),
			testRecord(generation.StatusGenerating),
			testRecord(generation.StatusFailed),
		}

		var calls int
		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			record := states[calls]
			calls++
			return record, nil
		})

		require.NoError(t, err)
		assert.Equal(t, generation.StatusFailed, record.Status)
		assert.Equal(t, 3, calls)
	})

	t.Run("FetchErrorsConsumeAttempts", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, time.Millisecond, 3, time.Second)

		var calls int
		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			calls++
			return nil, errors.New("connection refused")
		})

		assert.Nil(t, record)
		assert.ErrorIs(t, err, ErrStatusUnknown)
		assert.Equal(t, 3, calls)
	})

	t.Run("FetchErrorThenRecovery", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, time.Millisecond, 5, time.Second)
		completed := testRecord(generation.StatusCompleted)

		var calls int
		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return completed, nil
		})

		require.NoError(t, err)
		assert.Equal(t, completed, record)
		assert.Equal(t, 2, calls)
	})

	t.Run("NeverTerminalExhaustsAttempts", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, time.Millisecond, 4, time.Second)
		pending := testRecord(generation.StatusGenerating)

		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			return pending, nil
		})

		assert.Nil(t, record)
		assert.ErrorIs(t, err, ErrStatusUnknown)
	})

	t.Run("CeilingMapsToStatusUnknown", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, 50*time.Millisecond, 100, 10*time.Millisecond)
		pending := testRecord(generation.StatusGenerating)

		record, err := poller.Await(context.Background(), func(ctx context.Context) (*generation.Request, error) {
			return pending, nil
		})

		assert.Nil(t, record)
		assert.ErrorIs(t, err, ErrStatusUnknown)
	})

	t.Run("CallerCancellationAbortsEarly", func(t *testing.T) {
		poller := NewPollerWithCadence(logger, 50*time.Millisecond, 100, time.Minute)
		pending := testRecord(generation.StatusGenerating)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		record, err := poller.Await(ctx, func(ctx context.Context) (*generation.Request, error) {
			return pending, nil
		})

		assert.Nil(t, record)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
