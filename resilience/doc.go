// Package resilience governs how failures of arbitrary operations are
// retried, isolated, and recorded.
//
// It wraps unreliable work (outbound API calls, file processing, storage
// access) behind named operation types, each guarded by a retry policy, a
// per-name circuit breaker, and an optional fallback path. Every outcome is
// reported to the health monitor, and cross-request state (sessions, cache)
// lives in a crash-safe persisted store.
//
// # Components
//
//   - PolicyRegistry / RetryManager: named retry policies with exponential
//     backoff and transient/fatal error classification.
//
//   - CircuitBreaker / BreakerRegistry: one fault-isolation state machine
//     per operation name, created lazily on first use.
//
//   - FallbackManager: binds a primary operation to an optional fallback,
//     invoked only after the primary path is definitively exhausted.
//
//   - Manager: the facade composing everything, with background health
//     logging, state sweeping, and snapshot persistence.
//
// # Usage
//
//	mgr := resilience.NewManager(resilience.ManagerConfig{
//	    BreakerDefaults: resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
//	}, resilience.WithLogger(logger))
//	mgr.Start(ctx)
//	defer mgr.Close(ctx)
//
//	result, err := mgr.Run(ctx, resilience.OpAPICall, func(ctx context.Context) (any, error) {
//	    return callModelEndpoint(ctx)
//	})
//
// Errors marked with Fatal abort the retry loop immediately; everything else
// is treated as transient and consumes a retry attempt.
package resilience
