package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/docflow/config"
)

// restoreGlobals 测试结束后恢复全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

// initInMemory 以内存导出器启用遥测，不连接 collector
func initInMemory(t *testing.T, cfg config.TelemetryConfig) (*Providers, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	restoreGlobals(t)

	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	cfg.Enabled = true

	p, err := Init(cfg, "1.2.3", zaptest.NewLogger(t), WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, spans, reader
}

func TestInit_DisabledKeepsGlobals(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{Enabled: false}, "", nil)
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_RegistersSDKProviders(t *testing.T) {
	p, _, _ := initInMemory(t, config.TelemetryConfig{ServiceName: "docflow-test", SampleRate: 1})

	require.True(t, p.Enabled())
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)
	_, isSDK = otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK)
	assert.Same(t, p.tp, p.TracerProvider())
	assert.Same(t, p.mp, p.MeterProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestInit_SpansCarryServiceResource(t *testing.T) {
	p, spans, _ := initInMemory(t, config.TelemetryConfig{SampleRate: 1})

	_, span := p.TracerProvider().Tracer("docflow/workflow").Start(context.Background(), "workflow.initiate")
	span.SetAttributes(attribute.String("docflow.route", "Leave request"))
	span.End()

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "workflow.initiate", got[0].Name)

	res := got[0].Resource.Set()
	name, ok := res.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, defaultServiceName, name.AsString(), "empty service name falls back to docflow")
	version, ok := res.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())
}

func TestInit_ZeroSampleRateDropsRootSpans(t *testing.T) {
	p, spans, _ := initInMemory(t, config.TelemetryConfig{SampleRate: 0})

	_, span := p.TracerProvider().Tracer("docflow/http").Start(context.Background(), "GET /health")
	span.End()

	assert.Empty(t, spans.GetSpans())
}

func TestInit_ObserverMetricsReachReader(t *testing.T) {
	p, _, reader := initInMemory(t, config.TelemetryConfig{SampleRate: 1})

	obs, err := NewWorkflowObserver(p.MeterProvider())
	require.NoError(t, err)
	obs.InstanceStarted("Leave request")
	obs.InstanceStarted("Leave request")
	obs.TimeoutScanCompleted(15*time.Millisecond, 3, 1)

	got := collect(t, reader)
	require.Contains(t, got, "docflow.workflow.instances.started")
	assert.Equal(t, int64(2), sumOf(t, got["docflow.workflow.instances.started"]))
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.TracerProvider())
}

func TestProviders_ShutdownFlushesPendingSpans(t *testing.T) {
	restoreGlobals(t)
	spans := tracetest.NewInMemoryExporter()
	p, err := Init(config.TelemetryConfig{Enabled: true, SampleRate: 1}, "", zaptest.NewLogger(t),
		WithSpanExporter(spans), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("docflow/scanner").Start(context.Background(), "workflow.check_timeouts")
	span.End()
	require.Len(t, spans.GetSpans(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的模块版本是 (devel)
	assert.Equal(t, "dev", buildVersion())
}
