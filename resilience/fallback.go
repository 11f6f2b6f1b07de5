package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Delta-Corvi/docqa-core/observe"
)

// binding pairs a primary operation with its optional fallback.
type binding struct {
	primary  Operation
	fallback Operation
}

// FallbackManager binds operation names to primary and fallback paths and
// executes them behind the per-name circuit breaker and the retry manager.
type FallbackManager struct {
	mu       sync.RWMutex
	bindings map[string]binding

	breakers *BreakerRegistry
	retry    *RetryManager
	logger   observe.Logger
}

// NewFallbackManager creates a fallback manager over the given breaker
// registry and retry manager.
func NewFallbackManager(breakers *BreakerRegistry, retry *RetryManager, logger observe.Logger) *FallbackManager {
	return &FallbackManager{
		bindings: make(map[string]binding),
		breakers: breakers,
		retry:    retry,
		logger:   observe.OrNop(logger),
	}
}

// Register binds a primary operation and an optional fallback to name,
// replacing any prior binding. fallback may be nil; primary may be nil when
// the caller supplies the primary per call via Execute.
func (m *FallbackManager) Register(name string, primary, fallback Operation) {
	m.mu.Lock()
	m.bindings[name] = binding{primary: primary, fallback: fallback}
	m.mu.Unlock()

	m.logger.Info(context.Background(), "registered fallback binding",
		observe.F("op", name),
		observe.F("has_fallback", fallback != nil),
	)
}

func (m *FallbackManager) lookup(name string) binding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Absent names yield the zero binding: no primary, no fallback.
	return m.bindings[name]
}

// Execute runs primary for the named operation through its circuit breaker
// and the retry manager. When that path fails with ErrCircuitOpen or
// ErrRetryExhausted and a fallback is registered, the fallback runs exactly
// once and its result is returned. A failing fallback yields a
// FallbackExhaustedError carrying both errors; all other primary errors
// propagate unchanged.
func (m *FallbackManager) Execute(ctx context.Context, name string, primary Operation) (any, error) {
	bound := m.lookup(name)
	if primary == nil {
		primary = bound.primary
	}
	if primary == nil {
		return nil, fmt.Errorf("resilience: %q: %w", name, ErrNotRegistered)
	}

	breaker := m.breakers.Get(name)
	result, err := breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return m.retry.Execute(ctx, name, primary)
	})
	if err == nil {
		return result, nil
	}

	if !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrRetryExhausted) {
		return nil, err
	}
	if bound.fallback == nil {
		return nil, err
	}

	m.logger.Warn(ctx, "primary failed, invoking fallback",
		observe.F("op", name),
		observe.F("error", err.Error()),
	)

	result, fbErr := bound.fallback(ctx)
	if fbErr != nil {
		m.logger.Error(ctx, "fallback failed",
			observe.F("op", name),
			observe.F("error", fbErr.Error()),
		)
		return nil, &FallbackExhaustedError{Op: name, PrimaryErr: err, FallbackErr: fbErr}
	}

	m.logger.Info(ctx, "fallback succeeded", observe.F("op", name))
	return result, nil
}

// ExecuteRegistered runs the primary registered for name. It fails with
// ErrNotRegistered when no primary is bound.
func (m *FallbackManager) ExecuteRegistered(ctx context.Context, name string) (any, error) {
	return m.Execute(ctx, name, nil)
}
