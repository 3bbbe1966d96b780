package service

import (
	"context"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/pkg/logger"
)

// RetryExecutor wraps the transport call for one selected instance with
// bounded retries and exponential backoff. Retries always hit the same
// instance; selection is never re-run mid-call. Attempt 0 is the first try;
// after a failed attempt N the executor waits BaseBackoff * 2^N before the
// next one, and propagates the last error once MaxRetries is exhausted.
type RetryExecutor struct {
	logger *logger.Logger
}

// NewRetryExecutor creates a retry executor
func NewRetryExecutor(log *logger.Logger) *RetryExecutor {
	return &RetryExecutor{logger: log.RetryLogger()}
}

// Do runs fn until it succeeds or the policy is exhausted. callTimeout bounds
// each individual attempt; exceeding it counts as a failure for that attempt,
// not a fatal abort of the whole operation. The backoff wait is interrupted
// by ctx cancellation.
func (r *RetryExecutor) Do(ctx context.Context, policy domain.RetryPolicy, callTimeout time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, int, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if callTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, callTimeout)
		}

		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err

		if attempt >= policy.MaxRetries {
			return nil, attempt + 1, lastErr
		}

		delay := policy.BaseBackoff * (1 << uint(attempt))
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":    attempt,
			"backoff_ms": delay.Milliseconds(),
		}).Debug("Attempt failed, backing off before retry")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt + 1, ctx.Err()
		}
	}
}
