package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the circuit breaker's admission mode.
type State int

const (
	// StateClosed admits every request.
	StateClosed State = iota
	// StateOpen rejects every request until the reset timeout passes.
	StateOpen
	// StateHalfOpen admits a bounded number of probe requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig controls when the breaker trips and recovers.
type CircuitBreakerConfig struct {
	// MaxFailures is how many consecutive failures trip the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long an open circuit stays open before probing.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange observes every transition.
	OnStateChange func(from, to State)

	// IsFailure reports whether an error counts toward tripping.
	// Default: every non-nil error counts.
	IsFailure func(err error) bool
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests < 1 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	return c
}

// CircuitBreaker stops hammering a backend that keeps failing. After
// MaxFailures consecutive failures it rejects calls with ErrCircuitOpen,
// then lets a probe through once ResetTimeout has elapsed.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	fails    int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker builds a closed breaker from config, filling in defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config.withDefaults()}
}

// Execute runs op if the circuit admits it, recording the outcome.
// When the circuit is open it returns ErrCircuitOpen without calling op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := op(ctx)
	cb.record(err)
	return err
}

// State reports the current admission mode, applying any pending
// open-to-half-open transition first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Reset force-closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.fails = 0
	cb.probes = 0
	cb.moveLocked(StateClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.fails = 0
			return
		}
		cb.fails++
		cb.openedAt = time.Now()
		if cb.fails >= cb.config.MaxFailures {
			cb.moveLocked(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			// Failed probe restarts the open window.
			cb.openedAt = time.Now()
			cb.moveLocked(StateOpen)
			return
		}
		cb.fails = 0
		cb.moveLocked(StateClosed)
	}
}

// stateLocked flips an expired open circuit to half-open before reporting.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.ResetTimeout {
		cb.probes = 0
		cb.moveLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) moveLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
