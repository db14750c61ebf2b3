package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const defaultMetricExportInterval = 60 * time.Second

// Metrics records tool call counters and latencies through an OTLP meter.
// A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics configures an OTLP metric exporter from the same OTEL_*
// variables as New. It returns nil when metrics are not configured.
func NewMetrics(ctx context.Context, logger *logrus.Logger, serviceVersion string) (*Metrics, error) {
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") ||
		strings.EqualFold(os.Getenv("OTEL_METRICS_EXPORTER"), "none") {
		return nil, nil
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Debug("OTEL Metrics: Not configured, skipping meter")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var exporter sdkmetric.Exporter
	var err error
	switch protocol := otlpProtocol(endpoint); protocol {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlpmetrichttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL Metrics: Unknown protocol, defaulting to http")
		exporter, err = otlpmetrichttp.New(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(metricExportInterval(logger)),
		)),
		sdkmetric.WithResource(newResource(ctx, logger, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	m, err := NewMetricsWithProvider(mp)
	if err != nil {
		return nil, err
	}
	logger.Info("OTEL Metrics: Meter initialised successfully")
	return m, nil
}

// NewMetricsWithProvider creates the tool instruments on mp.
func NewMetricsWithProvider(mp *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{provider: mp}

	var err error
	if m.calls, err = meter.Int64Counter(MetricToolCalls,
		metric.WithDescription("Total tool invocations"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricToolCalls, err)
	}
	if m.errors, err = meter.Int64Counter(MetricToolErrors,
		metric.WithDescription("Tool invocations that returned an error result"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricToolErrors, err)
	}
	if m.duration, err = meter.Float64Histogram(MetricToolDuration,
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricToolDuration, err)
	}
	return m, nil
}

// RecordToolCall records one finished call.
func (m *Metrics) RecordToolCall(ctx context.Context, toolName, transport string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPTransport, transport),
		attribute.Bool(AttrMCPToolSuccess, !failed),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if failed {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Shutdown flushes pending measurements.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// metricExportInterval reads OTEL_METRIC_EXPORT_INTERVAL as a duration or a
// bare number of seconds.
func metricExportInterval(logger *logrus.Logger) time.Duration {
	value := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL"))
	if value == "" {
		return defaultMetricExportInterval
	}
	interval, err := time.ParseDuration(value)
	if err != nil {
		interval, err = time.ParseDuration(value + "s")
	}
	if err != nil || interval <= 0 {
		logger.WithField("interval", value).Warn("OTEL Metrics: Invalid export interval, using default")
		return defaultMetricExportInterval
	}
	return interval
}
