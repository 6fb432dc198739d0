package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes pipeline instruments exported over OTLP.
type Metrics struct {
	llmCalls       metric.Int64Counter
	llmTokens      metric.Int64Counter
	llmLatency     metric.Float64Histogram
	artifacts      metric.Int64Counter
	dualWrites     metric.Int64Counter
	qualityVerdict metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "newsdesk"
	}
	meter := provider.Meter(name)

	llmCalls, err := meter.Int64Counter("newsdesk_llm_calls_total")
	if err != nil {
		return nil, err
	}
	llmTokens, err := meter.Int64Counter("newsdesk_llm_tokens_total")
	if err != nil {
		return nil, err
	}
	llmLatency, err := meter.Float64Histogram("newsdesk_llm_latency_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	artifacts, err := meter.Int64Counter("newsdesk_artifacts_generated_total")
	if err != nil {
		return nil, err
	}
	dualWrites, err := meter.Int64Counter("newsdesk_dual_write_total")
	if err != nil {
		return nil, err
	}
	qualityVerdict, err := meter.Int64Counter("newsdesk_quality_verdicts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		llmCalls:       llmCalls,
		llmTokens:      llmTokens,
		llmLatency:     llmLatency,
		artifacts:      artifacts,
		dualWrites:     dualWrites,
		qualityVerdict: qualityVerdict,
	}, nil
}

// RecordLLMCall records one gateway call with its stop reason and token usage.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, stopReason string, tokensIn, tokensOut int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("stop_reason", strings.TrimSpace(stopReason)),
	)
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	if tokensIn > 0 {
		m.llmTokens.Add(ctx, int64(tokensIn), metric.WithAttributes(append(attrs, attribute.String("direction", "input"))...))
	}
	if tokensOut > 0 {
		m.llmTokens.Add(ctx, int64(tokensOut), metric.WithAttributes(append(attrs, attribute.String("direction", "output"))...))
	}
}

// RecordArtifact counts persisted artifacts per prompt category.
func (m *Metrics) RecordArtifact(ctx context.Context, category string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("category", strings.TrimSpace(category)))
	m.artifacts.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDualWrite counts dual-write transactions by mode and outcome.
func (m *Metrics) RecordDualWrite(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("mode", strings.TrimSpace(mode)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.dualWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQualityVerdict counts quality gate tiers.
func (m *Metrics) RecordQualityVerdict(ctx context.Context, tier string, eligible bool) {
	if m == nil {
		return
	}
	outcome := "eligible"
	if !eligible {
		outcome = "ineligible"
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("outcome", outcome),
	)
	m.qualityVerdict.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Account ids, job ids and article ids are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"stop_reason": {},
	"direction":   {},
	"category":    {},
	"mode":        {},
	"outcome":     {},
	"tier":        {},
	"job_type":    {},
	"status_code": {},
	"endpoint":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
