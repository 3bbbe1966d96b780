package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/pkg/logger"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	r := NewRetryExecutor(logger.NewNop())
	policy := domain.RetryPolicy{MaxRetries: 2, BaseBackoff: 100 * time.Millisecond}

	calls := 0
	start := time.Now()
	result, attempts, err := r.Do(context.Background(), policy, 0, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond,
		"backoff waits 100ms then 200ms before the second and third attempts")
}

func TestRetryExhaustionPropagatesLastError(t *testing.T) {
	t.Parallel()

	r := NewRetryExecutor(logger.NewNop())
	policy := domain.RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}

	calls := 0
	_, attempts, err := r.Do(context.Background(), policy, 0, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New(string(rune('a' + calls - 1)))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "attempt 0 plus maxRetries retries")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "c", err.Error(), "the last error surfaces")
}

func TestRetryZeroRetriesFailsImmediately(t *testing.T) {
	t.Parallel()

	r := NewRetryExecutor(logger.NewNop())
	policy := domain.RetryPolicy{MaxRetries: 0, BaseBackoff: time.Second}

	calls := 0
	start := time.Now()
	_, attempts, err := r.Do(context.Background(), policy, 0, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no backoff wait without a retry")
}

func TestRetryAttemptTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	r := NewRetryExecutor(logger.NewNop())
	policy := domain.RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond}

	calls := 0
	result, _, err := r.Do(context.Background(), policy, 20*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			// First attempt hangs until its per-attempt deadline.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "recovered", nil
	})

	require.NoError(t, err, "a timed-out attempt is retried, not fatal")
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 2, calls)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	r := NewRetryExecutor(logger.NewNop())
	policy := domain.RetryPolicy{MaxRetries: 3, BaseBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := r.Do(ctx, policy, 0, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
