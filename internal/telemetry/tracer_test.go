package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewWithProvider(tp), recorder
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestNew_NoEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tracer, err := New(context.Background(), logger, "test")
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())
	assert.NoError(t, tracer.Shutdown(context.Background()))

	ctx := context.Background()
	got, span := tracer.StartToolSpan(ctx, "read_file", "stdio", nil)
	assert.Equal(t, ctx, got)
	EndToolSpan(span, nil)
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	assert.False(t, tracer.Enabled())
	_, span := tracer.StartToolSpan(context.Background(), "read_file", "stdio", nil)
	EndToolSpan(span, nil)
}

func TestStartToolSpan_RecordsOutcome(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.StartToolSpan(context.Background(), "write_file", "http", map[string]any{
		"path":    "/data/a.txt",
		"content": "top secret contents",
	})
	EndToolSpan(span, nil)

	_, span = tracer.StartToolSpan(context.Background(), "read_file", "http", map[string]any{"path": "/etc/shadow"})
	EndToolSpan(span, errors.New("access denied"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	ok := ended[0]
	assert.Equal(t, SpanNameToolExecute, ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := attrMap(ok.Attributes())
	assert.Equal(t, "write_file", attrs[AttrMCPToolName].AsString())
	assert.Equal(t, "http", attrs[AttrMCPTransport].AsString())
	assert.True(t, attrs[AttrMCPToolSuccess].AsBool())
	assert.Contains(t, attrs[AttrMCPToolArgs].AsString(), "/data/a.txt")
	assert.NotContains(t, attrs[AttrMCPToolArgs].AsString(), "top secret")

	failed := ended[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	attrs = attrMap(failed.Attributes())
	assert.False(t, attrs[AttrMCPToolSuccess].AsBool())
	assert.Equal(t, "access denied", attrs[AttrMCPToolError].AsString())
}

func TestStartToolSpan_DisabledTool(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	tracer.disabled = parseDisabledTools("list_directory, read_file")

	_, span := tracer.StartToolSpan(context.Background(), "read_file", "stdio", nil)
	EndToolSpan(span, nil)
	assert.Empty(t, recorder.Ended())
}

func TestStartToolSpan_TruncatesLargeArguments(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	tracer.maxAttr = minAttributeSize

	paths := make([]any, 200)
	for i := range paths {
		paths[i] = "/data/" + strings.Repeat("x", 20)
	}
	_, span := tracer.StartToolSpan(context.Background(), "read_multiple_files", "stdio", map[string]any{"paths": paths})
	EndToolSpan(span, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	attrs := attrMap(ended[0].Attributes())
	assert.Len(t, attrs[AttrMCPToolArgs].AsString(), minAttributeSize)
	assert.True(t, attrs[AttrMCPToolArgsCut].AsBool())
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, defaultMaxAttributeSize, parseMaxAttributeSize(""))
	assert.Equal(t, minAttributeSize, parseMaxAttributeSize("10"))
	assert.Equal(t, maxAttributeSize, parseMaxAttributeSize("999999"))
	assert.Equal(t, 2048, parseMaxAttributeSize("2048"))

	assert.Equal(t, 1.0, parseRatio("nope"))
	assert.Equal(t, 0.0, parseRatio("-1"))
	assert.Equal(t, 0.25, parseRatio("0.25"))

	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	assert.Equal(t, "grpc", otlpProtocol("http://collector:4317"))
	assert.Equal(t, "http/protobuf", otlpProtocol("http://collector:4318"))
}
