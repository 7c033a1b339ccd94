// Package breaker implements a generic circuit breaker used to keep a
// failing chaos strategy from taking down the traffic it is meant to
// perturb. Each strategy instance owns its own breaker.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Call when the circuit is open and the reset
// timeout has not yet elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after FailMax consecutive failures and attempts
// recovery after ResetTimeout by allowing a single half-open probe call.
type CircuitBreaker struct {
	Name         string
	FailMax      int
	ResetTimeout time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
}

// New creates a circuit breaker with the given name, failure threshold and
// reset timeout. Defaults match the reference implementation: fail_max=5,
// reset_timeout=60s.
func New(name string, failMax int, resetTimeout time.Duration) *CircuitBreaker {
	if failMax <= 0 {
		failMax = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		Name:         name,
		FailMax:      failMax,
		ResetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// Call runs fn through the breaker. If the circuit is open and the reset
// timeout hasn't elapsed, it returns ErrOpen without calling fn. A single
// call is let through in the half-open state to probe for recovery.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()
		if cb.failureCount >= cb.FailMax || cb.state == StateHalfOpen {
			cb.state = StateOpen
		}
		return err
	}

	cb.state = StateClosed
	cb.failureCount = 0
	return nil
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	if time.Since(cb.lastFailureTime) < cb.ResetTimeout {
		return ErrOpen
	}

	cb.state = StateHalfOpen
	cb.failureCount = 0
	return nil
}

// Reset forces the breaker back to CLOSED.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
