// Package observe provides the telemetry primitives used across docqa-core:
// structured JSON logging, OpenTelemetry metrics, and OpenTelemetry tracing.
//
// The entry point is NewObserver, which wires exporters from configuration
// and hands out a Tracer, a Meter, and a Logger:
//
//	obs, err := observe.NewObserver(ctx, observe.Config{
//	    ServiceName: "docqa",
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	})
//
// All components in this module accept an observe.Logger; passing nil selects
// a no-op logger, so telemetry is always optional.
package observe
