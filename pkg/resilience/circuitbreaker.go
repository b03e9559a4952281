// Package resilience guards optional backends so a failing dependency is
// skipped quickly instead of slowing every call down.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
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

// ErrCircuitBreakerOpen is returned when the circuit breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// OnStateChange registers fn, called outside the lock after every transition.
func OnStateChange(fn func(from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and stays open
// for cooldown. The first call after cooldown is a probe: its success closes
// the breaker, its failure reopens it. Calls arriving while the probe runs
// are rejected.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker. maxFailures below 1 is treated as 1.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitBreakerOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed. A true result must be followed
// by exactly one Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !cb.probing {
			cb.probing = true
			allowed = true
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return allowed
}

// Record reports the outcome of an allowed call. A nil err is a success.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err == nil:
		cb.failures = 0
		cb.state = StateClosed
	case cb.state == StateHalfOpen:
		cb.trip()
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	}
	cb.probing = false
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.failures = 0
	cb.openedAt = cb.now()
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}
