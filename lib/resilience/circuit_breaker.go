// Package resilience guards calls to remote collaborators.
//
// The circuit breaker stops hammering the credential service once it is
// clearly unhealthy and lets a few trial requests through after a cool-down.
//
//	Closed (normal) -> Open (failing) -> HalfOpen (testing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if test fails)
package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
)

// ErrCircuitOpen is returned when a request is rejected because the circuit is open.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state - requests pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit is tripped - requests fail immediately.
	CircuitOpen
	// CircuitHalfOpen means the circuit is testing if the service recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes before closing.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// MaxHalfOpenRequests bounds concurrent trial requests.
	MaxHalfOpenRequests int
	// IsFailure decides whether an error counts against the service.
	// Nil counts every error. Errors it rejects are returned to the caller
	// and recorded as successes, since the service did answer.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns defaults for the credential service.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	name   string
	now    func() time.Time

	state                CircuitState
	failureCount         int
	successCount         int
	halfOpenRequestCount int
	openedAt             time.Time

	onStateChange func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}

	return &CircuitBreaker{
		config: cfg,
		name:   name,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// SetStateChangeCallback sets the callback for state changes. The callback
// runs synchronously with the breaker's lock held.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow checks if a request should be allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenRequestCount = 1
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.halfOpenRequestCount < cb.config.MaxHalfOpenRequests {
			cb.halfOpenRequestCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitOpen:
		log.WithField("circuit", cb.name).Warn("success recorded while circuit open")
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo changes the circuit state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case CircuitClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.successCount = 0
	case CircuitHalfOpen:
		cb.successCount = 0
		cb.halfOpenRequestCount = 0
	}

	log.WithField("circuit", cb.name).
		WithField("from", oldState.String()).
		WithField("to", newState.String()).
		Info("circuit breaker state transition")

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Context cancellation is returned as-is and not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil:
		return ctx.Err()
	case cb.config.IsFailure == nil || cb.config.IsFailure(err):
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
	return err
}

// Reset returns the breaker to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
	cb.failureCount = 0
	cb.halfOpenRequestCount = 0
	cb.openedAt = time.Time{}
}

// Name returns the name of this circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
