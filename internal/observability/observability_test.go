package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsRegisterPerRegistry(t *testing.T) {
	a := NewMetrics("cadence", prometheus.NewRegistry())
	b := NewMetrics("cadence", prometheus.NewRegistry())

	a.ActiveSessions.Inc()
	a.ObserveFirstAudioLatency("text", 300*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ActiveSessions))
	assert.Equal(t, 300.0, a.Latency.Snapshot().Stages[0].LastMS)
}

func TestLoggerCarriesTraceIDs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	Logger(ctx).Debug("hello")
	require.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)

	buf.Reset()
	Logger(context.Background()).Info("plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestInitTracingExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitTracing("cadence-test", "v0", exp)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "unit")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "unit", spans[0].Name)
}
