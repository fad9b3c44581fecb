package observability

import (
	"context"
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestLoggers(t *testing.T) {
	prevCLI, prevServer := CLILogger, ServerLogger
	t.Cleanup(func() { CLILogger, ServerLogger = prevCLI, prevServer })

	CLILogger, ServerLogger = nil, nil
	assert.Nil(t, ActiveLogger())

	InitCLILogger("gifmotion-test", true)
	require.NotNil(t, CLILogger)
	assert.Same(t, CLILogger, ActiveLogger())
	CLILogger.Debug("cli logger ready", zap.String("mode", "verbose"))

	InitServerLogger(LoggerOptions{Service: "gifmotion-test", Level: "warn", Format: "console", Namespace: "gifmotion"})
	require.NotNil(t, ServerLogger)
	assert.Same(t, ServerLogger, ActiveLogger(), "server logger wins once initialized")
	ServerLogger.Info("server logger ready", zap.Int("port", 8080))
}

func TestNewServerLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console", "", "bogus"} {
		logger, err := NewServerLogger(LoggerOptions{Service: "gifmotion-test", Format: format})
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" warn ":  "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestCrucibleVersionAvailable(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Empty(t, TraceIDFromContext(nil))

	exporter := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(exporter, TracingConfig{ServiceName: "gifmotion-test", ServiceVersion: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "generation.generate")
	traceID := TraceIDFromContext(ctx)
	span.End()

	require.Len(t, traceID, 32)
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "generation.generate", spans[0].Name)
	assert.Equal(t, traceID, spans[0].SpanContext.TraceID().String())
	assertServiceName(t, spans[0].Resource.Attributes(), "gifmotion-test")
}

func TestInitTracingRequiresServiceName(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{})
	assert.Error(t, err)
}

func assertServiceName(t *testing.T, attrs []attribute.KeyValue, want string) {
	t.Helper()
	for _, kv := range attrs {
		if string(kv.Key) == "service.name" {
			assert.Equal(t, want, kv.Value.AsString())
			return
		}
	}
	t.Fatalf("service.name not set on resource")
}
