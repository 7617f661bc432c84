// Package resilience guards calls to backing services that can fail or hang.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // normal operation, counting failures
	StateOpen                  // failing fast, calls rejected
	StateHalfOpen              // probing whether the dependency recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit is open and the call is
// rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a CircuitBreaker. Zero values fall back to defaults.
type Config struct {
	// Name identifies this breaker in logs.
	Name string

	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration

	// ProbeBudget is how many successful half-open probes close the circuit.
	ProbeBudget int
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
	defaultProbeBudget      = 3
)

// CircuitBreaker fails fast once a dependency shows sustained errors, then
// probes it periodically until it recovers.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = defaultProbeBudget
	}

	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
	}
}

// Execute runs fn unless the circuit is open. The fn error, if any, is
// returned unchanged so callers can apply their own error mapping.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return nil
}

// State reports the effective state, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// effectiveState transitions open to half-open once the cooldown elapsed.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Cooldown {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.successes < cb.cfg.ProbeBudget
	default:
		return true
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.ProbeBudget {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens the circuit.
		cb.transition(StateOpen)
	}
}

// transition moves to a new state and resets the counters. Callers must hold
// cb.mu.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}

	cb.state = next
	cb.failures = 0
	cb.successes = 0
	if next == StateOpen {
		cb.openedAt = time.Now()
	}
}
