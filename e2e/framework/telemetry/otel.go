// Package telemetry exports run, scenario and step spans plus counters over
// OTLP/gRPC when an endpoint is configured. Without one every method is a
// no-op.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

const instrumentation = "github.com/splunk/browser-e2e"

// Telemetry wraps the OTel tracer and meter plus run instruments.
type Telemetry struct {
	enabled          bool
	tracer           trace.Tracer
	scenarioCounter  metric.Int64Counter
	scenarioDuration metric.Float64Histogram
	stepCounter      metric.Int64Counter
	stepDuration     metric.Float64Histogram
	captureCounter   metric.Int64Counter
}

// Shutdown flushes and stops the exporters.
type Shutdown func(context.Context) error

// Init configures OpenTelemetry exporters and providers.
func Init(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Telemetry, Shutdown, error) {
	noop := func(context.Context) error { return nil }
	endpoint := strings.TrimSpace(cfg.OTelEndpoint)
	if !cfg.OTelEnabled && endpoint == "" {
		return &Telemetry{}, noop, nil
	}
	if endpoint == "" {
		return nil, nil, fmt.Errorf("otel endpoint required when telemetry is enabled")
	}

	headers := ParseKeyValues(cfg.OTelHeaders)
	metricExporter, err := newMetricExporter(ctx, endpoint, cfg.OTelInsecure, headers)
	if err != nil {
		return nil, nil, err
	}
	traceExporter, err := newTraceExporter(ctx, endpoint, cfg.OTelInsecure, headers)
	if err != nil {
		return nil, nil, err
	}
	res, err := resource.New(ctx, resource.WithFromEnv(), resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	t, err := newTelemetry(tracerProvider.Tracer(instrumentation), meterProvider.Meter(instrumentation))
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return multierr.Combine(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}
	logger.Info("otel enabled", zap.String("endpoint", endpoint))
	return t, shutdown, nil
}

// newTelemetry creates instruments on meter; tests pass in-memory providers.
func newTelemetry(tracer trace.Tracer, meter metric.Meter) (*Telemetry, error) {
	t := &Telemetry{enabled: true, tracer: tracer}
	var err, e error
	t.scenarioCounter, e = meter.Int64Counter("e2e_scenarios_total")
	err = multierr.Append(err, e)
	t.scenarioDuration, e = meter.Float64Histogram("e2e_scenario_duration_seconds", metric.WithUnit("s"))
	err = multierr.Append(err, e)
	t.stepCounter, e = meter.Int64Counter("e2e_steps_total")
	err = multierr.Append(err, e)
	t.stepDuration, e = meter.Float64Histogram("e2e_step_duration_seconds", metric.WithUnit("s"))
	err = multierr.Append(err, e)
	t.captureCounter, e = meter.Int64Counter("e2e_captures_total")
	err = multierr.Append(err, e)
	return t, err
}

// Enabled reports whether telemetry is active.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.enabled
}

// StartSpan starts a span with string attributes. The returned span is
// never nil.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span) {
	if !t.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))
}

// EndSpan sets the span status from status and err, then ends it.
func (t *Telemetry) EndSpan(span trace.Span, status results.Status, err error, attrs map[string]string) {
	if !t.Enabled() || span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(toAttributes(attrs)...)
	}
	span.SetAttributes(attribute.String("e2e.status", string(status)))
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status == results.StatusFailed:
		span.SetStatus(codes.Error, string(status))
	default:
		span.SetStatus(codes.Ok, string(status))
	}
	span.End()
}

// RecordScenario records metrics for a scenario.
func (t *Telemetry) RecordScenario(status results.Status, duration time.Duration, attrs map[string]string) {
	if !t.Enabled() {
		return
	}
	opt := metric.WithAttributes(withStatus(status, attrs)...)
	t.scenarioCounter.Add(context.Background(), 1, opt)
	t.scenarioDuration.Record(context.Background(), duration.Seconds(), opt)
}

// RecordStep records metrics for a step.
func (t *Telemetry) RecordStep(status results.Status, duration time.Duration, attrs map[string]string) {
	if !t.Enabled() {
		return
	}
	opt := metric.WithAttributes(withStatus(status, attrs)...)
	t.stepCounter.Add(context.Background(), 1, opt)
	t.stepDuration.Record(context.Background(), duration.Seconds(), opt)
}

// ObserveCapture implements capture.Observer.
func (t *Telemetry) ObserveCapture(kind results.ArtifactKind, err error) {
	if !t.Enabled() {
		return
	}
	t.captureCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("ok", err == nil),
	))
}

func newMetricExporter(ctx context.Context, endpoint string, insecure bool, headers map[string]string) (*otlpmetricgrpc.Exporter, error) {
	options := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
	if insecure {
		options = append(options, otlpmetricgrpc.WithInsecure())
	}
	if len(headers) > 0 {
		options = append(options, otlpmetricgrpc.WithHeaders(headers))
	}
	return otlpmetricgrpc.New(ctx, options...)
}

func newTraceExporter(ctx context.Context, endpoint string, insecure bool, headers map[string]string) (*otlptrace.Exporter, error) {
	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	if len(headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(headers))
	}
	return otlptracegrpc.New(ctx, options...)
}

func resourceAttributes(cfg *config.Config) []attribute.KeyValue {
	service := strings.TrimSpace(cfg.OTelServiceName)
	if service == "" {
		service = "browser-e2e"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(service),
		attribute.String("e2e.run_id", cfg.RunID),
		attribute.String("e2e.browser", cfg.Browser),
		attribute.String("e2e.isolation", cfg.Isolation),
	}
	for key, value := range ParseKeyValues(cfg.OTelResourceAttrs) {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

// ParseKeyValues parses "k1=v1,k2=v2". Malformed pairs are ignored.
func ParseKeyValues(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(val)
	}
	return out
}

func withStatus(status results.Status, attrs map[string]string) []attribute.KeyValue {
	kvs := toAttributes(attrs)
	return append(kvs, attribute.String("status", string(status)))
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}
	return kvs
}
