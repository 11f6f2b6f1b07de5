package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// StateClosed means calls flow through normally.
	StateClosed BreakerState = iota
	// StateOpen means calls fail fast without invoking the operation.
	StateOpen
	// StateHalfOpen means a single trial call is probing for recovery.
	StateHalfOpen
)

// String returns the wire representation of the state.
func (s BreakerState) String() string {
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

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a trial
	// call is allowed. Default: 60 seconds
	RecoveryTimeout time.Duration

	// OnStateChange is called on each state transition while the breaker's
	// lock is held; keep it cheap and never call back into the breaker.
	OnStateChange func(name string, from, to BreakerState)

	// IsFailure determines whether an error counts toward the threshold.
	// Default: every non-nil error except context cancellation and deadline
	// expiry; a caller abandoning its own request says nothing about the
	// dependency's health.
	IsFailure func(err error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return c
}

// CircuitBreaker isolates one named operation behind the circuit breaker
// state machine. All transitions happen inside a single critical section,
// so concurrent callers observe a linearizable state history.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	trialActive bool
}

// NewCircuitBreaker creates a circuit breaker for the named operation.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
	}
}

// Name returns the operation name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs op through the breaker. When the circuit is open and the
// recovery timeout has not elapsed, it fails with ErrCircuitOpen without
// invoking op. After the timeout, exactly one caller is admitted as the
// half-open trial.
func (cb *CircuitBreaker) Call(ctx context.Context, op Operation) (any, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	cb.afterCall(err)
	return result, err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.trialActive = true

	case StateHalfOpen:
		if cb.trialActive {
			// A trial is already in flight; everyone else fails fast.
			return ErrCircuitOpen
		}
		cb.trialActive = true
	}

	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		switch {
		case failed:
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.setState(StateOpen)
			}
		case err == nil:
			cb.failures = 0
		}

	case StateHalfOpen:
		cb.trialActive = false
		switch {
		case err == nil:
			cb.failures = 0
			cb.setState(StateClosed)
		case failed:
			// Failed probe: reopen and restart the recovery clock.
			cb.lastFailure = time.Now()
			cb.setState(StateOpen)
		default:
			// Inconclusive trial (caller cancelled); stay half-open and
			// admit the next probe.
		}
	}
}

func (cb *CircuitBreaker) setState(state BreakerState) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, state)
	}
}

// State returns the current state without side effects. An elapsed recovery
// timeout is only acted on by the next Call, not by reads.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to CLOSED and clears the failure count.
// Intended for operator intervention after a known-good deploy.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialActive = false
	cb.setState(StateClosed)
}

// BreakerSnapshot is the externally visible view of one breaker.
type BreakerSnapshot struct {
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure"`
}

// Snapshot returns the breaker's current observable state.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := BreakerSnapshot{
		State:        cb.state.String(),
		FailureCount: cb.failures,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		snap.LastFailure = &t
	}
	return snap
}
