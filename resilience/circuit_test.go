package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(counter *int) Operation {
	return func(ctx context.Context) (any, error) {
		*counter++
		return nil, errBoom
	}
}

func succeedingOp(counter *int) Operation {
	return func(ctx context.Context) (any, error) {
		*counter++
		return "ok", nil
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	calls := 0
	for i := 0; i < 3; i++ {
		if _, err := cb.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: error = %v, want errBoom", i, err)
		}
	}

	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}

	// Fourth call fails fast without invoking the operation.
	_, err := cb.Call(context.Background(), failingOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	_, _ = cb.Call(context.Background(), succeedingOp(&calls))

	snap := cb.Snapshot()
	if snap.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", snap.FailureCount)
	}
	if snap.State != "CLOSED" {
		t.Errorf("State = %q, want CLOSED", snap.State)
	}
}

func TestCircuitBreaker_RecoveryProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}

	time.Sleep(30 * time.Millisecond)

	result, err := cb.Call(context.Background(), succeedingOp(&calls))
	if err != nil {
		t.Fatalf("trial call error = %v", err)
	}
	if result != "ok" {
		t.Fatalf("trial result = %v, want ok", result)
	}

	snap := cb.Snapshot()
	if snap.State != "CLOSED" {
		t.Errorf("State = %q, want CLOSED after successful probe", snap.State)
	}
	if snap.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 after closing", snap.FailureCount)
	}
}

func TestCircuitBreaker_RecoveryProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))

	time.Sleep(30 * time.Millisecond)

	if _, err := cb.Call(context.Background(), failingOp(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("trial error = %v, want errBoom", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want OPEN after failed probe", got)
	}

	// The failed probe restarted the recovery clock.
	_, err := cb.Call(context.Background(), failingOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SingleTrialDuringHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cb.Call(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "ok", nil
		})
	}()

	<-started
	// While the trial is in flight, other callers fail fast.
	_, err := cb.Call(context.Background(), succeedingOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call error = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_ConcurrentTrips(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})

	transitions := 0
	cb.config.OnStateChange = func(name string, from, to BreakerState) {
		if to == StateOpen {
			transitions++
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cb.Call(context.Background(), func(ctx context.Context) (any, error) {
				return nil, errBoom
			})
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("CLOSED->OPEN transitions = %d, want exactly 1", transitions)
	}
}

func TestCircuitBreaker_CancellationDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	cancelled := func(ctx context.Context) (any, error) {
		return nil, context.Canceled
	}
	for i := 0; i < 5; i++ {
		if _, err := cb.Call(context.Background(), cancelled); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: error = %v, want context.Canceled", i, err)
		}
	}

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED after cancellations only", got)
	}
	if got := cb.Snapshot().FailureCount; got != 0 {
		t.Errorf("FailureCount = %d, want 0", got)
	}
}

func TestCircuitBreaker_CancellationDoesNotResetFailures(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	_, _ = cb.Call(context.Background(), func(ctx context.Context) (any, error) {
		return nil, context.Canceled
	})

	if got := cb.Snapshot().FailureCount; got != 2 {
		t.Errorf("FailureCount = %d, want 2 (cancellation is not a success)", got)
	}

	_, _ = cb.Call(context.Background(), failingOp(&calls))
	if got := cb.State(); got != StateOpen {
		t.Errorf("state = %v, want OPEN after the third real failure", got)
	}
}

func TestCircuitBreaker_CancelledProbeStaysHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("api", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	calls := 0
	_, _ = cb.Call(context.Background(), failingOp(&calls))
	time.Sleep(20 * time.Millisecond)

	// The trial is cancelled by its caller: no verdict either way.
	_, _ = cb.Call(context.Background(), func(ctx context.Context) (any, error) {
		return nil, context.Canceled
	})
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN after an inconclusive trial", got)
	}

	// The next caller is admitted as a fresh probe and can close the circuit.
	if _, err := cb.Call(context.Background(), succeedingOp(&calls)); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED after a successful probe", got)
	}
}

func TestBreakerRegistry_LazyCreationAndOverrides(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	r.Configure("fragile", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	if got := r.Get("api"); got != r.Get("api") {
		t.Error("Get must return the same breaker for the same name")
	}

	calls := 0
	fragile := r.Get("fragile")
	_, _ = fragile.Call(context.Background(), failingOp(&calls))
	if got := fragile.State(); got != StateOpen {
		t.Errorf("fragile state = %v, want OPEN after one failure", got)
	}

	snaps := r.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snaps))
	}
	if snaps["fragile"].State != "OPEN" {
		t.Errorf("fragile snapshot state = %q, want OPEN", snaps["fragile"].State)
	}
	if snaps["fragile"].LastFailure == nil {
		t.Error("fragile snapshot LastFailure = nil, want timestamp")
	}
	if snaps["api"].LastFailure != nil {
		t.Error("api snapshot LastFailure should be nil before any failure")
	}

	open, halfOpen := r.Counts()
	if open != 1 || halfOpen != 0 {
		t.Errorf("Counts() = (%d, %d), want (1, 0)", open, halfOpen)
	}
}
