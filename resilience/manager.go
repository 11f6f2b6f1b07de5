package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Delta-Corvi/docqa-core/health"
	"github.com/Delta-Corvi/docqa-core/observe"
	"github.com/Delta-Corvi/docqa-core/state"
)

// ManagerConfig configures the resilience facade.
type ManagerConfig struct {
	// Policies holds the per-operation-type retry policies.
	// Nil gets the built-in registry.
	Policies *PolicyRegistry

	// BreakerDefaults applies to every lazily created circuit breaker
	// without a per-name override.
	BreakerDefaults BreakerConfig

	// BreakerOverrides configures individual breakers by operation name.
	BreakerOverrides map[string]BreakerConfig

	// Thresholds drives health status classification and alerting.
	Thresholds health.Thresholds

	// State configures session/cache storage and persistence.
	State state.Config

	// HealthLogInterval is how often the background loop logs the health
	// snapshot. Default: 60 seconds
	HealthLogInterval time.Duration
}

// Manager is the single entry point for resilient execution: it composes
// the retry manager, the circuit breaker registry, the fallback manager,
// the health monitor, and the state manager. One Manager lives for the
// whole application.
type Manager struct {
	retry     *RetryManager
	breakers  *BreakerRegistry
	fallbacks *FallbackManager
	monitor   *health.Monitor
	store     *state.Manager

	logger  observe.Logger
	metrics observe.OperationMetrics
	tracer  trace.Tracer

	healthLogInterval time.Duration

	hookMu sync.Mutex
	hooks  []func(context.Context) error

	stop      chan struct{}
	loops     sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger used by all components.
func WithLogger(logger observe.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithOperationMetrics sets the metrics sink for Run outcomes.
func WithOperationMetrics(metrics observe.OperationMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer used to span each Run.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates the facade and its components.
func NewManager(cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		healthLogInterval: cfg.HealthLogInterval,
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = observe.OrNop(m.logger)
	if m.metrics == nil {
		m.metrics = observe.NopMetrics()
	}
	if m.tracer == nil {
		m.tracer = tracenoop.NewTracerProvider().Tracer("resilience")
	}
	if m.healthLogInterval <= 0 {
		m.healthLogInterval = 60 * time.Second
	}

	breakerDefaults := cfg.BreakerDefaults
	if breakerDefaults.OnStateChange == nil {
		breakerDefaults.OnStateChange = m.logStateChange
	}

	m.breakers = NewBreakerRegistry(breakerDefaults)
	for name, override := range cfg.BreakerOverrides {
		m.breakers.Configure(name, override)
	}
	m.retry = NewRetryManager(cfg.Policies, m.logger)
	m.fallbacks = NewFallbackManager(m.breakers, m.retry, m.logger)
	m.monitor = health.NewMonitor(cfg.Thresholds)
	m.store = state.NewManager(cfg.State, m.logger)

	return m
}

func (m *Manager) logStateChange(name string, from, to BreakerState) {
	m.logger.Warn(context.Background(), "circuit breaker state change",
		observe.F("breaker", name),
		observe.F("from", from.String()),
		observe.F("to", to.String()),
	)
}

// Retry returns the retry manager.
func (m *Manager) Retry() *RetryManager { return m.retry }

// Breakers returns the circuit breaker registry.
func (m *Manager) Breakers() *BreakerRegistry { return m.breakers }

// Fallbacks returns the fallback manager.
func (m *Manager) Fallbacks() *FallbackManager { return m.fallbacks }

// Monitor returns the health monitor.
func (m *Manager) Monitor() *health.Monitor { return m.monitor }

// State returns the state manager.
func (m *Manager) State() *state.Manager { return m.store }

// Run executes work for the given operation type through the fallback
// manager (circuit breaker around retries, registered fallback on
// exhaustion) and records outcome and latency to the health monitor and
// metrics regardless of success. A nil work runs the registered primary.
func (m *Manager) Run(ctx context.Context, opType string, work Operation) (any, error) {
	ctx, span := m.tracer.Start(ctx, "resilience.run",
		trace.WithAttributes(attribute.String("op.name", opType)))
	defer span.End()

	start := time.Now()
	result, err := m.fallbacks.Execute(ctx, opType, work)
	latency := time.Since(start)

	m.monitor.RecordRequest(latency, err == nil)
	m.metrics.RecordRun(ctx, opType, latency, err)

	if err != nil {
		m.monitor.RecordError(err, map[string]any{"operation": opType})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// RunRegistered executes the primary registered for name.
func (m *Manager) RunRegistered(ctx context.Context, name string) (any, error) {
	return m.Run(ctx, name, nil)
}

// HealthStatus returns the current health snapshot, folding in the circuit
// breaker states.
func (m *Manager) HealthStatus() health.Snapshot {
	open, halfOpen := m.breakers.Counts()
	return m.monitor.Health(health.BreakerView{Open: open, HalfOpen: halfOpen})
}

// SystemMetrics is the aggregate observability payload.
type SystemMetrics struct {
	Health          health.Snapshot            `json:"health"`
	CircuitBreakers map[string]BreakerSnapshot `json:"circuit_breakers"`
	StateInfo       state.Stats                `json:"state_info"`
}

// GetSystemMetrics returns health status, every breaker's state, and state
// store statistics.
func (m *Manager) GetSystemMetrics() SystemMetrics {
	return SystemMetrics{
		Health:          m.HealthStatus(),
		CircuitBreakers: m.breakers.Snapshot(),
		StateInfo:       m.store.Stats(),
	}
}

// OnShutdown registers a hook to run during Close, before the final state
// persist.
func (m *Manager) OnShutdown(hook func(context.Context) error) {
	m.hookMu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hookMu.Unlock()
}

// Start recovers persisted state and launches the background loops:
// periodic health logging, TTL sweeping, and snapshot persistence.
// Safe to call once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.store.Load(ctx)

		m.loops.Add(2)
		go m.healthLoop()
		go m.stateLoop()

		m.logger.Info(ctx, "resilience manager started")
	})
}

func (m *Manager) healthLoop() {
	defer m.loops.Done()

	ticker := time.NewTicker(m.healthLogInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			snap := m.HealthStatus()
			fields := []observe.Field{
				observe.F("status", snap.Status),
				observe.F("requests_total", snap.RequestsTotal),
				observe.F("success_rate", snap.SuccessRate),
			}
			switch snap.Status {
			case health.StatusUnhealthy:
				m.logger.Error(ctx, "system unhealthy", fields...)
			case health.StatusDegraded:
				m.logger.Warn(ctx, "system degraded", fields...)
			default:
				m.logger.Debug(ctx, "system healthy", fields...)
			}
		}
	}
}

func (m *Manager) stateLoop() {
	defer m.loops.Done()

	cfg := m.store.Config()
	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()
	persist := time.NewTicker(cfg.PersistInterval)
	defer persist.Stop()

	ctx := context.Background()
	for {
		select {
		case <-m.stop:
			return
		case <-sweep.C:
			sessions, entries := m.store.Sweep(time.Now())
			if sessions > 0 || entries > 0 {
				m.logger.Info(ctx, "swept expired state",
					observe.F("sessions", sessions),
					observe.F("cache_entries", entries),
				)
			}
		case <-persist.C:
			if err := m.store.Persist(ctx); err != nil {
				m.logger.Error(ctx, "periodic state persist failed",
					observe.F("error", err.Error()))
			}
		}
	}
}

// Close stops the background loops, runs registered shutdown hooks, and
// persists the final state. It returns the first error encountered but
// always completes every step.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error

	m.closeOnce.Do(func() {
		close(m.stop)
		m.loops.Wait()

		m.hookMu.Lock()
		hooks := append([]func(context.Context) error(nil), m.hooks...)
		m.hookMu.Unlock()

		for _, hook := range hooks {
			if err := hook(ctx); err != nil {
				m.logger.Error(ctx, "shutdown hook failed", observe.F("error", err.Error()))
				if firstErr == nil {
					firstErr = err
				}
			}
		}

		if err := m.store.Persist(ctx); err != nil {
			m.logger.Error(ctx, "final state persist failed", observe.F("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}

		m.logger.Info(ctx, "resilience manager stopped")
	})

	return firstErr
}
