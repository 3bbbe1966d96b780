package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/pkg/logger"
)

func newTestBreaker(threshold int, timeout time.Duration, onChange StateChangeFunc) *CircuitBreaker {
	return NewCircuitBreaker("pricing", domain.CircuitBreakerConfig{
		FailureThreshold: threshold,
		OpenTimeout:      timeout,
	}, logger.NewNop(), onChange)
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(3, time.Second, nil)

	assert.Equal(t, domain.StateClosed, cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, domain.StateClosed, cb.State(), "below threshold the circuit stays closed")
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, domain.StateOpen, cb.State())
	assert.False(t, cb.CanExecute(), "open circuit rejects calls before the timeout")
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(3, time.Second, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())

	// Two more failures must not open the circuit after the reset.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, domain.StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(1, 50*time.Millisecond, nil)

	cb.RecordFailure()
	require.Equal(t, domain.StateOpen, cb.State())
	assert.False(t, cb.CanExecute())

	time.Sleep(80 * time.Millisecond)

	assert.True(t, cb.CanExecute(), "first admission after the timeout is the trial")
	assert.Equal(t, domain.StateHalfOpen, cb.State())
	assert.False(t, cb.CanExecute(), "only one trial is admitted while half-open")
}

func TestCircuitBreakerTrialSuccessCloses(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(1, 10*time.Millisecond, nil)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordSuccess()
	assert.Equal(t, domain.StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreakerTrialFailureReopens(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(1, 50*time.Millisecond, nil)

	cb.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, domain.StateOpen, cb.State())
	assert.False(t, cb.CanExecute(), "the open timeout is re-armed from the trial failure")

	time.Sleep(80 * time.Millisecond)
	assert.True(t, cb.CanExecute(), "a new trial is admitted after the re-armed timeout")
}

func TestCircuitBreakerReleaseTrial(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(1, 10*time.Millisecond, nil)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.CanExecute())
	require.False(t, cb.CanExecute())

	// The admitted call aborted before the transport; the slot reopens and
	// the circuit stays half-open.
	cb.ReleaseTrial()
	assert.Equal(t, domain.StateHalfOpen, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreakerSingleTrialUnderConcurrency(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(1, 10*time.Millisecond, nil)
	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	const callers = 32
	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.CanExecute() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted, "exactly one trial call while half-open")
}

func TestCircuitBreakerStateChangeNotifications(t *testing.T) {
	t.Parallel()

	type transition struct {
		from, to domain.CircuitState
	}
	var transitions []transition

	cb := newTestBreaker(1, 20*time.Millisecond, func(service string, from, to domain.CircuitState) {
		assert.Equal(t, "pricing", service)
		transitions = append(transitions, transition{from, to})
	})

	cb.RecordFailure()
	time.Sleep(40 * time.Millisecond)
	require.True(t, cb.CanExecute())
	cb.RecordSuccess()

	require.Len(t, transitions, 3)
	assert.Equal(t, transition{domain.StateClosed, domain.StateOpen}, transitions[0])
	assert.Equal(t, transition{domain.StateOpen, domain.StateHalfOpen}, transitions[1])
	assert.Equal(t, transition{domain.StateHalfOpen, domain.StateClosed}, transitions[2])
}

func TestCircuitStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", domain.StateClosed.String())
	assert.Equal(t, "open", domain.StateOpen.String())
	assert.Equal(t, "half-open", domain.StateHalfOpen.String())
	assert.Equal(t, "unknown", domain.CircuitState(99).String())
}
