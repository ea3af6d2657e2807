// Package faulttolerance provides circuit breaking and retry primitives
// used around outbound venue calls.
package faulttolerance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Execute while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds configuration for the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	ResetTimeout     time.Duration // Time in Open before probing with Half-Open
	Name             string        // Name for logging
}

// CircuitBreaker gates a risky operation. Closed passes calls through and
// counts consecutive failures; Open short-circuits; Half-Open admits calls,
// closes again on the first success and reopens on any failure.
type CircuitBreaker struct {
	config          BreakerConfig
	state           State
	failures        int
	lastFailureTime time.Time
	mutex           sync.Mutex
	logger          *logrus.Logger
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config BreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.Name == "" {
		config.Name = "CircuitBreaker"
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		logger: logger,
	}
}

// Execute runs fn with circuit breaker protection. In Open it returns
// ErrCircuitOpen without calling fn; otherwise fn's error is returned
// unchanged and its outcome recorded.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// allow reports whether a call may proceed, moving Open to Half-Open once
// the reset timeout has elapsed since the last failure.
func (cb *CircuitBreaker) allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// record registers the outcome of an execution.
func (cb *CircuitBreaker) record(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.setState(StateOpen)
				cb.logger.Warnf("[%s] circuit OPENED after %d failures", cb.config.Name, cb.failures)
			}
		case StateHalfOpen:
			cb.setState(StateOpen)
			cb.logger.Warnf("[%s] circuit reopened from HALF_OPEN", cb.config.Name)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

// setState changes the state. Callers must hold cb.mutex.
func (cb *CircuitBreaker) setState(state State) {
	if cb.state != state {
		old := cb.state
		cb.state = state
		cb.logger.Infof("[%s] circuit state changed: %s -> %s", cb.config.Name, old, state)
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats returns current counters for monitoring.
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return map[string]interface{}{
		"name":              cb.config.Name,
		"state":             cb.state.String(),
		"failures":          cb.failures,
		"last_failure_time": cb.lastFailureTime,
	}
}
