package health

import (
	"fmt"
	"sync"
	"time"
)

// Status labels, in decreasing order of goodness.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Thresholds configures status classification and alerting.
type Thresholds struct {
	// HealthyRate is the minimum success rate (percent) for healthy.
	// Default: 95
	HealthyRate float64

	// DegradedRate is the minimum success rate (percent) for degraded.
	// Below it the system is unhealthy. Default: 80
	DegradedRate float64

	// MaxAvgResponse downgrades a healthy system to degraded when the
	// average response time exceeds it. Default: 5 seconds
	MaxAvgResponse time.Duration

	// ErrorBufferSize is the recent-error ring buffer capacity.
	// Default: 500
	ErrorBufferSize int

	// RecentErrorsShown is how many recent errors the snapshot carries.
	// Default: 5
	RecentErrorsShown int

	// AlertWindow is the sliding window for error-rate alerts.
	// Default: 5 minutes
	AlertWindow time.Duration

	// AlertErrorCount is the number of errors within AlertWindow that
	// raises an error-rate alert. Default: 10
	AlertErrorCount int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.HealthyRate <= 0 {
		t.HealthyRate = 95
	}
	if t.DegradedRate <= 0 {
		t.DegradedRate = 80
	}
	if t.MaxAvgResponse <= 0 {
		t.MaxAvgResponse = 5 * time.Second
	}
	if t.ErrorBufferSize <= 0 {
		t.ErrorBufferSize = 500
	}
	if t.RecentErrorsShown <= 0 {
		t.RecentErrorsShown = 5
	}
	if t.AlertWindow <= 0 {
		t.AlertWindow = 5 * time.Minute
	}
	if t.AlertErrorCount <= 0 {
		t.AlertErrorCount = 10
	}
	return t
}

// ErrorRecord is one sampled error.
type ErrorRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"error_message"`
	Context   map[string]any `json:"context,omitempty"`
}

// Alert is a condition worth surfacing to operators.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the externally visible health payload.
type Snapshot struct {
	Status          string        `json:"status"`
	UptimeSeconds   float64       `json:"uptime_seconds"`
	RequestsTotal   int64         `json:"requests_total"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime float64       `json:"avg_response_time"`
	RecentErrors    []ErrorRecord `json:"recent_errors"`
	Alerts          []Alert       `json:"alerts"`
	Timestamp       time.Time     `json:"timestamp"`
}

// BreakerView summarizes circuit breaker states for classification.
type BreakerView struct {
	Open     int
	HalfOpen int
}

const (
	rollingWindow = 10
	maxAlerts     = 100
	shownAlerts   = 10
	alertCooldown = time.Minute
)

// Monitor accumulates request statistics, recent errors, and alerts.
type Monitor struct {
	config Thresholds

	mu            sync.Mutex
	start         time.Time
	requestsTotal int64
	successCount  int64
	latencySum    time.Duration
	latencyCount  int64

	// rolling holds the last rollingWindow latencies for performance alerts.
	rolling      [rollingWindow]time.Duration
	rollingIdx   int
	rollingCount int

	errors    *errorRing
	alerts    []Alert
	lastAlert map[string]time.Time
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(config Thresholds) *Monitor {
	cfg := config.withDefaults()
	return &Monitor{
		config:    cfg,
		start:     time.Now(),
		errors:    newErrorRing(cfg.ErrorBufferSize),
		lastAlert: make(map[string]time.Time),
	}
}

// RecordRequest records the outcome and latency of one request.
func (m *Monitor) RecordRequest(latency time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestsTotal++
	if success {
		m.successCount++
	}
	m.latencySum += latency
	m.latencyCount++

	m.rolling[m.rollingIdx] = latency
	m.rollingIdx = (m.rollingIdx + 1) % rollingWindow
	if m.rollingCount < rollingWindow {
		m.rollingCount++
	}

	m.checkPerformanceAlert()
}

// RecordError samples an error with caller-supplied context. The oldest
// sample is dropped once the ring buffer is full.
func (m *Monitor) RecordError(err error, context map[string]any) {
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.errors.push(ErrorRecord{
		Timestamp: time.Now(),
		Message:   err.Error(),
		Context:   context,
	})
	m.checkErrorRateAlert()
}

// Reset re-zeros all counters, samples, and alerts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.start = time.Now()
	m.requestsTotal = 0
	m.successCount = 0
	m.latencySum = 0
	m.latencyCount = 0
	m.rollingIdx = 0
	m.rollingCount = 0
	m.errors = newErrorRing(m.config.ErrorBufferSize)
	m.alerts = nil
	m.lastAlert = make(map[string]time.Time)
}

// Health computes the current snapshot. breakers feeds the classification:
// an open breaker blocks healthy, and open or half-open breakers hold the
// system at degraded even with a perfect success rate.
func (m *Monitor) Health(breakers BreakerView) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	// An idle system is healthy until proven otherwise.
	rate := 100.0
	if m.requestsTotal > 0 {
		rate = float64(m.successCount) / float64(m.requestsTotal) * 100
	}

	var avg float64
	if m.latencyCount > 0 {
		avg = (m.latencySum / time.Duration(m.latencyCount)).Seconds()
	}

	var status string
	switch {
	case rate >= m.config.HealthyRate && breakers.Open == 0 && breakers.HalfOpen == 0:
		status = StatusHealthy
	case rate >= m.config.DegradedRate || breakers.Open > 0 || breakers.HalfOpen > 0:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}
	if status == StatusHealthy && avg > m.config.MaxAvgResponse.Seconds() {
		status = StatusDegraded
	}

	alerts := m.alerts
	if len(alerts) > shownAlerts {
		alerts = alerts[len(alerts)-shownAlerts:]
	}

	return Snapshot{
		Status:          status,
		UptimeSeconds:   time.Since(m.start).Seconds(),
		RequestsTotal:   m.requestsTotal,
		SuccessRate:     rate,
		AvgResponseTime: avg,
		RecentErrors:    m.errors.newest(m.config.RecentErrorsShown),
		Alerts:          append([]Alert(nil), alerts...),
		Timestamp:       time.Now(),
	}
}

func (m *Monitor) checkPerformanceAlert() {
	if m.rollingCount < rollingWindow {
		return
	}
	var sum time.Duration
	for _, d := range m.rolling {
		sum += d
	}
	avg := sum / rollingWindow
	if avg <= m.config.MaxAvgResponse {
		return
	}
	m.addAlert("performance", fmt.Sprintf("high response time detected: %.2fs", avg.Seconds()))
}

func (m *Monitor) checkErrorRateAlert() {
	cutoff := time.Now().Add(-m.config.AlertWindow)
	recent := m.errors.countSince(cutoff)
	if recent <= m.config.AlertErrorCount {
		return
	}
	m.addAlert("error_rate", fmt.Sprintf("high error rate: %d errors in %s", recent, m.config.AlertWindow))
}

func (m *Monitor) addAlert(kind, message string) {
	// One alert per kind per cooldown: a sustained condition with
	// fluctuating readings must not flood the list.
	now := time.Now()
	if last, ok := m.lastAlert[kind]; ok && now.Sub(last) < alertCooldown {
		return
	}
	m.lastAlert[kind] = now

	m.alerts = append(m.alerts, Alert{Type: kind, Message: message, Timestamp: now})
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
}

// errorRing is a fixed-capacity ring buffer of error samples.
type errorRing struct {
	entries []ErrorRecord
	head    int
	count   int
}

func newErrorRing(capacity int) *errorRing {
	return &errorRing{entries: make([]ErrorRecord, capacity)}
}

func (r *errorRing) push(rec ErrorRecord) {
	r.entries[r.head] = rec
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// newest returns up to n most recent samples, oldest first.
func (r *errorRing) newest(n int) []ErrorRecord {
	if n > r.count {
		n = r.count
	}
	out := make([]ErrorRecord, 0, n)
	for i := r.count - n; i < r.count; i++ {
		idx := (r.head - r.count + i + 2*len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

func (r *errorRing) countSince(cutoff time.Time) int {
	n := 0
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + 2*len(r.entries)) % len(r.entries)
		if r.entries[idx].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}
