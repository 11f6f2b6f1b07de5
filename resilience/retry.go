package resilience

import (
	"context"
	"time"

	"github.com/Delta-Corvi/docqa-core/observe"
)

// Operation is a unit of work executed under resilience protection.
type Operation func(ctx context.Context) (any, error)

// RetryManager executes operations under the retry policy registered for
// their operation type.
type RetryManager struct {
	policies *PolicyRegistry
	logger   observe.Logger
}

// NewRetryManager creates a retry manager. A nil policies registry gets the
// built-in policies; a nil logger disables logging.
func NewRetryManager(policies *PolicyRegistry, logger observe.Logger) *RetryManager {
	if policies == nil {
		policies = NewPolicyRegistry()
	}
	return &RetryManager{
		policies: policies,
		logger:   observe.OrNop(logger),
	}
}

// Policies returns the registry backing this manager.
func (m *RetryManager) Policies() *PolicyRegistry {
	return m.policies
}

// Execute runs op under the policy for opType: up to MaxRetries+1 attempts,
// retrying only errors the policy classifies as retryable, with exponential
// backoff between attempts. Cancellation is observed before every attempt
// and during backoff. Exhaustion returns a RetryExhaustedError carrying the
// attempt count and the final error.
func (m *RetryManager) Execute(ctx context.Context, opType string, op Operation) (any, error) {
	policy := m.policies.Resolve(opType)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.RetryIf(err) {
			return nil, err
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		m.logger.Warn(ctx, "attempt failed, backing off",
			observe.F("op", opType),
			observe.F("attempt", attempt+1),
			observe.F("delay", delay.String()),
			observe.F("error", err.Error()),
		)

		// Suspend only this call; never a shared worker.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &RetryExhaustedError{Op: opType, Attempts: policy.MaxRetries + 1, Err: lastErr}
}
