// Package telemetry bootstraps the OpenTelemetry tracer and meter
// providers used by every other package in this module. Those packages
// call otel.Tracer(...)/otel.Meter(...) directly against the global
// provider at init time, the way the teacher's doltTracer/doltMetrics
// pair does: that provider is a no-op until Init runs here, so
// instruments registered before Init automatically start forwarding to
// the real exporters the moment it does.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu          sync.Mutex
	tracerShut  func(context.Context) error
	meterShut   func(context.Context) error
	initialized bool
)

// Config controls where telemetry is written. The zero value writes
// pretty-printed JSON traces and metrics to os.Stderr, which is a
// reasonable default for a CLI-embedded engine.
type Config struct {
	// Writer receives exported spans and metrics. Defaults to os.Stderr.
	Writer io.Writer
	// ServiceName tags every span and metric with service.name.
	ServiceName string
	// Disabled skips exporter setup entirely, leaving the no-op global
	// providers in place (useful for tests that don't want trace noise).
	Disabled bool
}

// Init installs the global trace and meter providers. It is safe to
// call at most once per process; a second call is a no-op and returns
// nil. Call Shutdown before process exit to flush pending telemetry.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}
	initialized = true

	if cfg.Disabled {
		return nil
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "recall"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Writer),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracerShut = tp.Shutdown

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	meterShut = mp.Shutdown

	return nil
}

// Shutdown flushes and stops the providers Init installed. Safe to call
// even if Init was never called or was called with Disabled.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	var firstErr error
	if tracerShut != nil {
		if err := tracerShut(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if meterShut != nil {
		if err := meterShut(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tracer returns a tracer for the named instrumentation scope, matching
// the teacher's telemetry.Tracer convenience wrapper.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

// Meter returns a meter for the named instrumentation scope, matching
// the teacher's telemetry.Meter convenience wrapper.
func Meter(name string) otelmetric.Meter { return otel.Meter(name) }
