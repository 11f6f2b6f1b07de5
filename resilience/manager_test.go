package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Delta-Corvi/docqa-core/health"
	"github.com/Delta-Corvi/docqa-core/state"
)

type fakeMetrics struct {
	mu   sync.Mutex
	runs []struct {
		op  string
		err error
	}
}

func (f *fakeMetrics) RecordRun(ctx context.Context, operation string, d time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, struct {
		op  string
		err error
	}{operation, err})
}

func newTestManager(t *testing.T, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	t.Helper()
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(t.TempDir(), "state.json")
	}
	return NewManager(cfg, opts...)
}

func TestManager_RunRecordsOutcome(t *testing.T) {
	metrics := &fakeMetrics{}
	m := newTestManager(t, ManagerConfig{}, WithOperationMetrics(metrics))

	if _, err := m.Run(context.Background(), OpAPICall, func(ctx context.Context) (any, error) {
		return "answer", nil
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snap := m.HealthStatus()
	if snap.RequestsTotal != 1 {
		t.Errorf("RequestsTotal = %d, want 1", snap.RequestsTotal)
	}
	if snap.SuccessRate != 100 {
		t.Errorf("SuccessRate = %f, want 100", snap.SuccessRate)
	}
	if len(metrics.runs) != 1 || metrics.runs[0].op != OpAPICall || metrics.runs[0].err != nil {
		t.Errorf("metrics runs = %+v, want one successful api_call", metrics.runs)
	}
}

func TestManager_RunFailureSamplesError(t *testing.T) {
	metrics := &fakeMetrics{}

	policies := NewPolicyRegistry()
	policies.Register("flaky", RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond})

	m := newTestManager(t, ManagerConfig{Policies: policies}, WithOperationMetrics(metrics))

	_, err := m.Run(context.Background(), "flaky", func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream 503")
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Run() error = %v, want retry exhaustion", err)
	}

	snap := m.HealthStatus()
	if snap.RequestsTotal != 1 || snap.SuccessRate != 0 {
		t.Errorf("snapshot = {total:%d, rate:%f}, want {1, 0}", snap.RequestsTotal, snap.SuccessRate)
	}
	if len(snap.RecentErrors) != 1 {
		t.Fatalf("RecentErrors size = %d, want 1", len(snap.RecentErrors))
	}
	if got := snap.RecentErrors[0].Context["operation"]; got != "flaky" {
		t.Errorf("error context operation = %v, want flaky", got)
	}
	if len(metrics.runs) != 1 || metrics.runs[0].err == nil {
		t.Errorf("metrics runs = %+v, want one failed run", metrics.runs)
	}
}

func TestManager_RetriesBeforeExhaustion(t *testing.T) {
	policies := NewPolicyRegistry()
	policies.Register("doc_parse", RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
	})

	m := newTestManager(t, ManagerConfig{Policies: policies})

	attempts := 0
	_, err := m.Run(context.Background(), "doc_parse", func(ctx context.Context) (any, error) {
		attempts++
		return nil, Transient(errors.New("parser busy"))
	})

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want RetryExhaustedError", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("reported attempts = %d, want 3", exhausted.Attempts)
	}
}

func TestManager_GetSystemMetrics(t *testing.T) {
	m := newTestManager(t, ManagerConfig{
		BreakerDefaults: BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		Policies: func() *PolicyRegistry {
			r := NewPolicyRegistry()
			r.SetDefault(RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond})
			return r
		}(),
	})

	m.State().CreateSession()
	_, _ = m.Run(context.Background(), "broken", func(ctx context.Context) (any, error) {
		return nil, errors.New("down")
	})

	metrics := m.GetSystemMetrics()
	if metrics.Health.Status != health.StatusDegraded {
		t.Errorf("health status = %q, want degraded with an open breaker", metrics.Health.Status)
	}
	if metrics.CircuitBreakers["broken"].State != "OPEN" {
		t.Errorf("breaker state = %q, want OPEN", metrics.CircuitBreakers["broken"].State)
	}
	if metrics.StateInfo.SessionsCount != 1 {
		t.Errorf("SessionsCount = %d, want 1", metrics.StateInfo.SessionsCount)
	}

	raw, err := json.Marshal(metrics)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"health", "circuit_breakers", "state_info"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestManager_ClosePersistsAndRunsHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := newTestManager(t, ManagerConfig{State: state.Config{Path: path}})

	ctx := context.Background()
	m.Start(ctx)

	m.State().CreateSession("report.pdf")

	hookRan := false
	m.OnShutdown(func(ctx context.Context) error {
		hookRan = true
		return nil
	})

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !hookRan {
		t.Error("shutdown hook did not run")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	var snapshot struct {
		Sessions map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if len(snapshot.Sessions) != 1 {
		t.Errorf("persisted sessions = %d, want 1", len(snapshot.Sessions))
	}

	// Close is idempotent.
	if err := m.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestManager_CloseReturnsFirstHookError(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	first := errors.New("flush failed")
	m.OnShutdown(func(ctx context.Context) error { return first })
	m.OnShutdown(func(ctx context.Context) error { return errors.New("second") })

	if err := m.Close(context.Background()); !errors.Is(err, first) {
		t.Errorf("Close() error = %v, want the first hook error", err)
	}
}
