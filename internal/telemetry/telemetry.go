// Package telemetry wires OpenTelemetry for the configuration cache and
// the workflow engine. It is off unless FOUNDRY_OTEL_ENABLED=true; while
// off, the global providers are no-ops and the instruments cost nothing.
//
// # Environment
//
//	FOUNDRY_OTEL_ENABLED=true               turn telemetry on
//	FOUNDRY_OTEL_STDOUT=true                print spans and metrics to stdout
//	FOUNDRY_OTEL_SAMPLE_RATIO=0.25          fraction of transitions traced (default 1)
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=... OTLP/HTTP metrics endpoint (host:port)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...         fallback metrics endpoint
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationScope = "github.com/steveyegge/foundry"

	stdoutMetricInterval = 15 * time.Second
	otlpMetricInterval   = 30 * time.Second
)

// settings is the environment-derived telemetry configuration.
type settings struct {
	stdout       bool
	sampleRatio  float64
	otlpEndpoint string
}

func settingsFromEnv() settings {
	s := settings{
		stdout:      os.Getenv("FOUNDRY_OTEL_STDOUT") == "true",
		sampleRatio: 1,
	}
	if raw := os.Getenv("FOUNDRY_OTEL_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			s.sampleRatio = r
		}
	}
	s.otlpEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if s.otlpEndpoint == "" {
		s.otlpEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return s
}

var (
	mu        sync.Mutex
	active    bool
	shutdowns []func(context.Context) error
)

// Enabled reports whether FOUNDRY_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("FOUNDRY_OTEL_ENABLED") == "true"
}

// Init installs the global tracer and meter providers. Calling it again
// before Shutdown is a no-op.
func Init(ctx context.Context, serviceName, version string) error {
	mu.Lock()
	defer mu.Unlock()
	if active {
		return nil
	}
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	cfg := settingsFromEnv()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(res, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: tracer provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, res, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: meter provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdowns = append(shutdowns, tp.Shutdown, mp.Shutdown)
	active = true
	return nil
}

// newTracerProvider samples transitions at the configured ratio. Spans
// are only exported in stdout mode; otherwise they still carry valid
// contexts for log correlation.
func newTracerProvider(res *resource.Resource, cfg settings) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))),
	}
	if cfg.stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg settings) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutMetricInterval)),
		))
	}
	if cfg.otlpEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.otlpEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpMetricInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer for name, or for the module scope when empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the module scope when empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. Exporter failures are
// logged, not returned: the process is exiting anyway.
func Shutdown(ctx context.Context) {
	mu.Lock()
	fns := shutdowns
	shutdowns = nil
	active = false
	mu.Unlock()

	var errs []error
	for _, fn := range fns {
		errs = append(errs, fn(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
}
