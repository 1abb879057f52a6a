package tracing

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"smsrelay/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withRecorder installs a recording provider for the duration of the test.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestNewManager_Defaults(t *testing.T) {
	tm := NewManager(models.TracingConfig{SampleRate: 7}, testLogger())

	assert.Equal(t, "smsrelay", tm.config.ServiceName)
	assert.Equal(t, "dev", tm.config.ServiceVersion)
	assert.Equal(t, "development", tm.config.Environment)
	assert.Equal(t, DefaultOTLPEndpoint, tm.config.OTLPEndpoint)
	assert.Equal(t, 1.0, tm.config.SampleRate)
}

func TestManager_Disabled(t *testing.T) {
	tm := NewManager(models.TracingConfig{Enabled: false}, testLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.tracerProvider)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestManager_StdoutLifecycle(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	tm := NewManager(models.TracingConfig{Enabled: true, UseStdout: true, SampleRate: 0.5}, testLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	require.NotNil(t, tm.tracerProvider)

	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestManager_OTLPExporterIsLazy(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	tm := NewManager(models.TracingConfig{Enabled: true, OTLPEndpoint: "http://127.0.0.1:1/v1/traces"}, testLogger())

	// the exporter connects on export, not on construction
	require.NoError(t, tm.Initialize(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tm.Shutdown(ctx)
}

func TestStartSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "queue.attempt", attribute.String("work_id", "sms_1"))
	AddSpanAttributes(ctx, attribute.Int("attempt", 2))
	SetSpanStatus(ctx, codes.Ok, "")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "queue.attempt", spans[0].Name())
	assert.Equal(t, TracerName, spans[0].InstrumentationScope().Name)
	assert.Contains(t, spans[0].Attributes(), attribute.String("work_id", "sms_1"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("attempt", 2))
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestRecordError(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "dispatch.endpoint")
	RecordError(ctx, errors.New("endpoint returned 503"), attribute.String("endpoint", "Primary"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "endpoint returned 503", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestHelpers_NoActiveSpan(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx, attribute.String("k", "v"))
		SetSpanStatus(ctx, codes.Error, "boom")
		RecordError(ctx, errors.New("boom"))
	})
	assert.Empty(t, OtelTraceID(ctx))
}

func TestStartRequestSpan_StoresTraceID(t *testing.T) {
	withRecorder(t)

	ctx, span := StartRequestSpan(context.Background(), "http_request")
	defer span.End()

	traceID := OtelTraceID(ctx)
	require.Len(t, traceID, 32)
	assert.Equal(t, traceID, GetTraceID(ctx))
}

func TestStartRequestSpan_NoopProvider(t *testing.T) {
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(noop.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	ctx, span := StartRequestSpan(context.Background(), "http_request")
	defer span.End()

	assert.Empty(t, GetTraceID(ctx))
}
