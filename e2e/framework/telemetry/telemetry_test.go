package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

func TestInitDisabledIsNoop(t *testing.T) {
	tel, shutdown, err := Init(context.Background(), &config.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, tel.Enabled())

	ctx, span := tel.StartSpan(context.Background(), "scenario", map[string]string{"a": "b"})
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	tel.EndSpan(span, results.StatusPassed, nil, nil)
	tel.RecordScenario(results.StatusPassed, time.Second, nil)
	tel.ObserveCapture(results.KindStep, nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledWithoutEndpoint(t *testing.T) {
	_, _, err := Init(context.Background(), &config.Config{OTelEnabled: true}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestParseKeyValues(t *testing.T) {
	got := ParseKeyValues(" team = web , broken, =x, env=dev")
	assert.Equal(t, map[string]string{"team": "web", "env": "dev"}, got)
	assert.Empty(t, ParseKeyValues(""))
}

func TestSpansAndInstruments(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tel, err := newTelemetry(tp.Tracer("test"), mp.Meter("test"))
	require.NoError(t, err)

	_, span := tel.StartSpan(context.Background(), "scenario", map[string]string{"scenario": "search"})
	tel.EndSpan(span, results.StatusFailed, errors.New("no results"), nil)
	tel.RecordScenario(results.StatusFailed, 2*time.Second, map[string]string{"scenario": "search"})
	tel.RecordStep(results.StatusPassed, time.Second, nil)
	tel.ObserveCapture(results.KindNavigation, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "scenario", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, name := range []string{"e2e_scenarios_total", "e2e_scenario_duration_seconds", "e2e_steps_total", "e2e_step_duration_seconds", "e2e_captures_total"} {
		assert.True(t, names[name], name)
	}
}

func TestResourceAttributesDefaultService(t *testing.T) {
	attrs := resourceAttributes(&config.Config{RunID: "r1", Browser: "chromium", OTelResourceAttrs: "team=web"})
	values := map[string]string{}
	for _, kv := range attrs {
		values[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "browser-e2e", values["service.name"])
	assert.Equal(t, "r1", values["e2e.run_id"])
	assert.Equal(t, "web", values["team"])
}
