package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when a circuit breaker refuses a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRetryExhausted matches RetryExhaustedError via errors.Is.
	ErrRetryExhausted = errors.New("resilience: retries exhausted")

	// ErrFallbackExhausted matches FallbackExhaustedError via errors.Is.
	ErrFallbackExhausted = errors.New("resilience: primary and fallback both failed")

	// ErrNotRegistered is returned when no primary is bound for an operation name.
	ErrNotRegistered = errors.New("resilience: operation not registered")
)

// RetryExhaustedError reports that all permitted attempts of an operation failed.
type RetryExhaustedError struct {
	// Op is the operation type whose policy governed the attempts.
	Op string

	// Attempts is the total number of invocations performed.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// FallbackExhaustedError reports that the primary path and the registered
// fallback both failed for an operation.
type FallbackExhaustedError struct {
	Op          string
	PrimaryErr  error
	FallbackErr error
}

func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %s completely unavailable: primary: %v, fallback: %v",
		e.Op, e.PrimaryErr, e.FallbackErr)
}

func (e *FallbackExhaustedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

func (e *FallbackExhaustedError) Is(target error) bool {
	return target == ErrFallbackExhausted
}

// fatalError marks an error as non-retryable.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as fatal: the retry loop aborts immediately without
// consuming further attempts. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// transientError marks an error as explicitly retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// DefaultRetryable is the default retry classification: every failure is
// treated as transient unless it was marked Fatal or stems from caller
// cancellation. Operation types with stricter rules supply their own
// RetryIf on the policy.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
