package resilience

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Well-known operation types. Callers may use any name; these are the
// categories the built-in policies cover.
const (
	OpAPICall        = "api_call"
	OpFileProcessing = "file_processing"
	OpDatabase       = "database"
)

// RetryPolicy describes how failures of one operation type are retried.
// A policy is resolved once per call and immutable afterwards.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means a single attempt; negative values are treated as zero.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 60s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// Jitter randomizes each delay downward by up to 25% when set.
	Jitter bool

	// RetryIf classifies an error as retryable. Default: DefaultRetryable.
	RetryIf func(err error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.RetryIf == nil {
		p.RetryIf = DefaultRetryable
	}
	return p
}

// Delay computes the backoff delay for the given zero-based attempt index:
// min(BaseDelay * Multiplier^attempt, MaxDelay), jittered downward when
// enabled so the MaxDelay bound always holds.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	multiplier := math.Pow(p.Multiplier, float64(attempt))
	delay := time.Duration(float64(p.BaseDelay) * multiplier)

	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	if p.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay -= time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// PolicyRegistry holds named retry policies, one per operation type.
// Unregistered operation types resolve to the default policy.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]RetryPolicy
	fallback RetryPolicy
}

// NewPolicyRegistry creates a registry seeded with the built-in policies
// for API calls, file processing, and database access.
func NewPolicyRegistry() *PolicyRegistry {
	r := &PolicyRegistry{
		policies: make(map[string]RetryPolicy),
		// Unregistered operation types behave like API calls.
		fallback: RetryPolicy{MaxRetries: 3}.withDefaults(),
	}
	r.Register(OpAPICall, RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second})
	r.Register(OpFileProcessing, RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second})
	r.Register(OpDatabase, RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second})
	return r
}

// Register binds a policy to an operation type, replacing any prior binding.
func (r *PolicyRegistry) Register(opType string, policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[opType] = policy.withDefaults()
}

// SetDefault replaces the policy used for unregistered operation types.
func (r *PolicyRegistry) SetDefault(policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = policy.withDefaults()
}

// Resolve returns the policy for the operation type, or the default policy
// when none is registered.
func (r *PolicyRegistry) Resolve(opType string) RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.policies[opType]; ok {
		return p
	}
	return r.fallback
}
