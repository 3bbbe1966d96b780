package service

import (
	"sync"
	"time"

	"github.com/shopfabric/mesh/internal/domain"
	"github.com/shopfabric/mesh/pkg/logger"
)

// StateChangeFunc is invoked synchronously on every breaker transition,
// after the breaker's lock is released.
type StateChangeFunc func(service string, from, to domain.CircuitState)

// CircuitBreaker is the per-service failure-tracking gate. It is purely
// reactive: recovery is driven by the next incoming call after the open
// timeout elapses, never by a background probe. All transitions happen under
// a per-service mutex so that at most one trial call is admitted while
// half-open, even under true parallelism.
type CircuitBreaker struct {
	service string
	config  domain.CircuitBreakerConfig
	logger  *logger.Logger

	mu            sync.Mutex
	state         domain.CircuitState
	failures      int
	successes     int
	lastFailure   time.Time
	trialInFlight bool

	onStateChange StateChangeFunc
}

// NewCircuitBreaker creates a breaker in the closed state with zero counts
func NewCircuitBreaker(service string, config domain.CircuitBreakerConfig, log *logger.Logger, onStateChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		service:       service,
		config:        config,
		logger:        log.BreakerLogger(service),
		state:         domain.StateClosed,
		onStateChange: onStateChange,
	}
}

// CanExecute reports whether the next call is admitted. An open breaker whose
// timeout has elapsed transitions to half-open here and admits the caller as
// the single trial.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()

	switch cb.state {
	case domain.StateClosed:
		cb.mu.Unlock()
		return true

	case domain.StateOpen:
		if time.Since(cb.lastFailure) > cb.config.OpenTimeout {
			from := cb.transition(domain.StateHalfOpen)
			cb.trialInFlight = true
			cb.mu.Unlock()
			cb.notify(from, domain.StateHalfOpen)
			cb.logger.Info("Admitting trial call in half-open state")
			return true
		}
		cb.mu.Unlock()
		return false

	case domain.StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			cb.mu.Unlock()
			return true
		}
		cb.mu.Unlock()
		return false

	default:
		cb.mu.Unlock()
		return false
	}
}

// RecordSuccess feeds a successful call outcome back into the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	cb.failures = 0
	cb.successes++

	if cb.state == domain.StateHalfOpen {
		cb.trialInFlight = false
		from := cb.transition(domain.StateClosed)
		cb.mu.Unlock()
		cb.notify(from, domain.StateClosed)
		cb.logger.Info("Trial call succeeded, circuit closed")
		return
	}
	cb.mu.Unlock()
}

// RecordFailure feeds a failed call outcome back into the breaker
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()

	cb.successes = 0

	switch cb.state {
	case domain.StateClosed:
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.config.FailureThreshold {
			from := cb.transition(domain.StateOpen)
			failures := cb.failures
			cb.mu.Unlock()
			cb.notify(from, domain.StateOpen)
			cb.logger.WithFields(map[string]interface{}{
				"failures":          failures,
				"failure_threshold": cb.config.FailureThreshold,
				"open_timeout":      cb.config.OpenTimeout.String(),
			}).Warn("Failure threshold reached, circuit opened")
			return
		}

	case domain.StateHalfOpen:
		// The trial failed; re-arm the open timeout from now.
		cb.trialInFlight = false
		cb.lastFailure = time.Now()
		from := cb.transition(domain.StateOpen)
		cb.mu.Unlock()
		cb.notify(from, domain.StateOpen)
		cb.logger.Warn("Trial call failed, circuit re-opened")
		return
	}
	cb.mu.Unlock()
}

// ReleaseTrial gives the trial slot back without deciding the circuit. Used
// when an admitted call aborts before it reaches the transport (no healthy
// instance, no selectable instance); the next call becomes the trial.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == domain.StateHalfOpen {
		cb.trialInFlight = false
	}
}

// State returns the current state without triggering lazy transitions
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Successes returns the current consecutive success count
func (cb *CircuitBreaker) Successes() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.successes
}

// transition must be called with cb.mu held; it returns the previous state
func (cb *CircuitBreaker) transition(to domain.CircuitState) domain.CircuitState {
	from := cb.state
	cb.state = to
	return from
}

func (cb *CircuitBreaker) notify(from, to domain.CircuitState) {
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(cb.service, from, to)
	}
}
