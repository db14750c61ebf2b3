// Package telemetry exports OpenTelemetry spans and metrics for tool calls.
// Both are off unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "github.com/sammcj/mcp-filesystem"

	defaultMaxAttributeSize = 4096
	minAttributeSize        = 1024
	maxAttributeSize        = 65536
)

// otelErrorHandler keeps SDK errors out of stderr, which stdio clients read.
type otelErrorHandler struct {
	logger *logrus.Logger
}

func (h *otelErrorHandler) Handle(err error) {
	if err != nil {
		h.logger.WithError(err).Debug("OTEL: SDK error occurred")
	}
}

// Tracer creates tool spans. The zero value and a nil *Tracer are no-ops.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	disabled map[string]bool
	maxAttr  int
}

// New configures an OTLP exporter from the standard OTEL_* variables. When
// tracing is not configured, or the exporter cannot be created, the
// returned Tracer records nothing.
func New(ctx context.Context, logger *logrus.Logger, serviceVersion string) (*Tracer, error) {
	t := &Tracer{
		tracer:   noop.NewTracerProvider().Tracer(instrumentationName),
		disabled: parseDisabledTools(os.Getenv("MCP_TRACING_DISABLED_TOOLS")),
		maxAttr:  parseMaxAttributeSize(os.Getenv("MCP_TRACING_MAX_ATTRIBUTE_SIZE")),
	}

	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL: Explicitly disabled via OTEL_SDK_DISABLED")
		return t, nil
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Debug("OTEL: Not configured (OTEL_EXPORTER_OTLP_ENDPOINT not set), using noop tracer")
		return t, nil
	}

	logger.WithField("endpoint", endpoint).Info("OTEL: Initialising tracer")
	otel.SetErrorHandler(&otelErrorHandler{logger: logger})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var exporter *otlptrace.Exporter
	var err error
	switch protocol := otlpProtocol(endpoint); protocol {
	case "grpc":
		exporter, err = otlptracegrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlptracehttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL: Unknown protocol, defaulting to http")
		exporter, err = otlptracehttp.New(ctx)
	}
	if err != nil {
		return t, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(ctx, logger, serviceVersion)),
		sdktrace.WithSampler(sampler(logger)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.tracer = tp.Tracer(instrumentationName)
	t.provider = tp
	logger.Info("OTEL: Tracer initialised successfully")
	return t, nil
}

// newResource describes this service, merging OTEL_RESOURCE_ATTRIBUTES.
func newResource(ctx context.Context, logger *logrus.Logger, serviceVersion string) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName()),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Failed to create resource, using default")
		return resource.Default()
	}
	return res
}

// NewWithProvider returns a Tracer backed by tp.
func NewWithProvider(tp *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:   tp.Tracer(instrumentationName),
		provider: tp,
		disabled: map[string]bool{},
		maxAttr:  defaultMaxAttributeSize,
	}
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t != nil && t.provider != nil
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// StartToolSpan starts a span for one tool call. The caller must end it
// with EndToolSpan.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName, transport string, args map[string]any) (context.Context, trace.Span) {
	if !t.Enabled() || t.disabled[toolName] {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := t.tracer.Start(ctx, SpanNameToolExecute, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPTransport, transport),
	)

	sanitised := SanitiseArguments(args)
	if len(sanitised) <= t.maxAttr {
		span.SetAttributes(attribute.String(AttrMCPToolArgs, sanitised))
	} else {
		span.SetAttributes(
			attribute.String(AttrMCPToolArgs, TruncateString(sanitised, t.maxAttr)),
			attribute.Bool(AttrMCPToolArgsCut, true),
		)
	}
	return ctx, span
}

// EndToolSpan records the outcome and ends span.
func EndToolSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool(AttrMCPToolSuccess, false),
			attribute.String(AttrMCPToolError, err.Error()),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Bool(AttrMCPToolSuccess, true))
	}
	span.End()
}

func parseDisabledTools(value string) map[string]bool {
	disabled := make(map[string]bool)
	for tool := range strings.SplitSeq(value, ",") {
		if tool = strings.TrimSpace(tool); tool != "" {
			disabled[tool] = true
		}
	}
	return disabled
}

func otlpProtocol(endpoint string) string {
	if protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); protocol != "" {
		return protocol
	}
	if strings.Contains(endpoint, ":4317") {
		return "grpc"
	}
	return "http/protobuf"
}

func serviceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return "mcp-filesystem"
}

func sampler(logger *logrus.Logger) sdktrace.Sampler {
	ratio := parseRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG"))

	switch samplerType := os.Getenv("OTEL_TRACES_SAMPLER"); samplerType {
	case "", "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		logger.WithField("sampler", samplerType).Warn("OTEL: Unknown sampler type, using always_on")
		return sdktrace.AlwaysSample()
	}
}

// parseRatio clamps to [0, 1]; anything unparsable samples everything.
func parseRatio(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 1.0
	}
	return min(max(f, 0.0), 1.0)
}

func parseMaxAttributeSize(s string) int {
	size, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultMaxAttributeSize
	}
	return min(max(size, minAttributeSize), maxAttributeSize)
}
