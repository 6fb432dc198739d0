package observability

import (
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/observability/logger"
	"github.com/smallbiznis/newsdesk/internal/observability/metrics"
	"github.com/smallbiznis/newsdesk/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Process names the newsdesk binary a telemetry stream comes from.
type Process string

const (
	ProcessMonolith Process = "monolith"
	ProcessAPI      Process = "api"
	ProcessWorker   Process = "worker"
	ProcessMigrate  Process = "contentmigrate"
)

// Module wires logging, tracing and metrics for one process. Every binary
// picks its Process with ForProcess.
var Module = fx.Module("observability",
	fx.Provide(
		provideConfig,
		provideLogger,
		func(cfg Config) tracing.Config { return cfg.tracingConfig() },
		tracing.NewProvider,
		func(cfg Config) metrics.Config { return cfg.metricsConfig() },
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		provideWorkerMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// ForProcess is Module plus the process identity.
func ForProcess(p Process) fx.Option {
	return fx.Options(fx.Supply(p), Module)
}

type configParams struct {
	fx.In

	App     config.Config
	Process Process `optional:"true"`
}

func provideConfig(p configParams) Config {
	cfg := LoadConfig(p.App)
	cfg.Process = p.Process
	if p.Process != "" && p.Process != ProcessMonolith {
		cfg.ServiceName += "-" + string(p.Process)
	}
	return cfg
}

// provideLogger tags every line with the emitting process.
func provideLogger(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	log, err := logger.New(lc, cfg.loggerConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Process != "" {
		log = log.With(zap.String("process", string(cfg.Process)))
	}
	return log, nil
}

func (c Config) loggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) tracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

func provideWorkerMetrics(cfg metrics.Config) *metrics.WorkerMetrics {
	return metrics.WorkerWithConfig(cfg)
}
