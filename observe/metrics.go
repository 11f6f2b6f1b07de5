package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OperationMetrics records the outcome of guarded operation executions.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type OperationMetrics interface {
	// RecordRun records one execution of the named operation with its
	// duration and final error (nil on success).
	RecordRun(ctx context.Context, operation string, duration time.Duration, err error)
}

type operationMetrics struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewOperationMetrics creates OperationMetrics backed by the given meter.
func NewOperationMetrics(meter metric.Meter) (OperationMetrics, error) {
	totalCount, err := meter.Int64Counter(
		"docqa.op.total",
		metric.WithDescription("Total number of guarded operation executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"docqa.op.errors",
		metric.WithDescription("Total number of failed guarded operation executions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"docqa.op.duration_ms",
		metric.WithDescription("Guarded operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &operationMetrics{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

func (m *operationMetrics) RecordRun(ctx context.Context, operation string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("op.name", operation))

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

// nopMetrics is an OperationMetrics implementation that does nothing.
type nopMetrics struct{}

func (nopMetrics) RecordRun(context.Context, string, time.Duration, error) {}

// NopMetrics returns an OperationMetrics that discards all recordings.
func NopMetrics() OperationMetrics {
	return nopMetrics{}
}
