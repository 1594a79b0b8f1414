// Package resilience provides circuit breaker and retry patterns for
// external service calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed passes calls through and counts failures.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset deadline passes.
	CircuitOpen
	// CircuitHalfOpen admits probe calls to test recovery.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen rejects a call made while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker trips and how it recovers.
// Zero values fall back to 5 consecutive failures, a 30s reset window, and
// a single recovery probe.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects calls before
	// admitting probes.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many probes must succeed before the circuit
	// closes again.
	HalfOpenMaxProbes int

	// ShouldTrip filters which errors count toward the threshold. Nil
	// counts every error.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions, for logging.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the zero-value fallbacks explicitly.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards one downstream service. A run of failures opens it;
// while open every call fails fast with ErrCircuitOpen; after ResetTimeout
// it admits probes and closes once enough of them succeed.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int       // consecutive failures while closed
	probes   int       // successful probes while half-open
	reopenAt time.Time // when an open circuit starts admitting probes

	clock func() time.Time
}

// NewCircuitBreaker creates a breaker with cfg, filling unset knobs with
// the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, clock: time.Now}
}

// Execute runs fn through the breaker, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for calls that return a value. The zero value comes
// back on a fast-failed call.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the circuit's current state. An open circuit whose reset
// deadline has passed reports half-open, matching what the next call will
// experience.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && !cb.clock().Before(cb.reopenAt) {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probes = 0
	cb.setState(CircuitClosed)
}

// admit decides whether the next call may run.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.clock().Before(cb.reopenAt) {
			return ErrCircuitOpen
		}
		// Reset window elapsed: start probing.
		cb.probes = 0
		cb.setState(CircuitHalfOpen)
	}
	return nil
}

// observe records a call outcome and moves the state machine.
func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counts := err != nil
	if counts && cb.cfg.ShouldTrip != nil {
		counts = cb.cfg.ShouldTrip(err)
	}

	if !counts {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.probes++
			if cb.probes >= cb.cfg.HalfOpenMaxProbes {
				cb.failures = 0
				cb.setState(CircuitClosed)
			}
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case CircuitHalfOpen:
		// A failed probe reopens for a full reset window.
		cb.trip()
	}
}

// trip opens the circuit and schedules the probe window. Caller holds the
// lock.
func (cb *CircuitBreaker) trip() {
	cb.reopenAt = cb.clock().Add(cb.cfg.ResetTimeout)
	cb.setState(CircuitOpen)
}

// setState transitions and fires the observer. Caller holds the lock.
func (cb *CircuitBreaker) setState(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
