package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
)

// Tracer names used across nodeflow.
const (
	TracerWorkflow = "nodeflow/workflow"
	TracerHTTP     = "nodeflow/http"
)

// Providers holds the SDK providers. Both are nil when telemetry is
// disabled, and every method then falls back to the global providers.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option customizes Init.
type Option func(*options)

type options struct {
	version       string
	spanExporter  sdktrace.SpanExporter
	skipMeter     bool
	setGlobals    bool
	instanceIDGen func() string
}

// WithServiceVersion overrides the version read from build info.
func WithServiceVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.version = v
		}
	}
}

// WithSpanExporter exports spans synchronously to exp instead of OTLP and
// disables the metric pipeline. Used by tests and the CLI.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.spanExporter = exp
		o.skipMeter = true
	}
}

// WithoutGlobals keeps the providers out of the otel globals.
func WithoutGlobals() Option {
	return func(o *options) { o.setGlobals = false }
}

// Init builds trace and metric providers for the workflow engine and HTTP
// layer. With cfg.Enabled false it returns empty Providers and touches
// nothing outside the process.
func Init(cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using global providers")
		return &Providers{}, nil
	}

	o := options{
		version:       buildVersion(),
		setGlobals:    true,
		instanceIDGen: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(o.version),
			semconv.ServiceInstanceIDKey.String(o.instanceIDGen()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))

	var spanProcessor sdktrace.SpanProcessor
	if o.spanExporter != nil {
		spanProcessor = sdktrace.NewSimpleSpanProcessor(o.spanExporter)
	} else {
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		spanProcessor = sdktrace.NewBatchSpanProcessor(exp)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(spanProcessor),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		),
	}

	if !o.skipMeter {
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = p.tp.Shutdown(ctx)
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
			sdkmetric.WithResource(res),
		)
	}

	if o.setGlobals {
		otel.SetTracerProvider(p.tp)
		if p.mp != nil {
			otel.SetMeterProvider(p.mp)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("service_version", o.version),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.Bool("metrics", p.mp != nil),
	)
	return p, nil
}

// Tracer returns a tracer from the SDK provider, or the global one.
func (p *Providers) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Meter returns a meter from the SDK provider, or the global one.
func (p *Providers) Meter(name string) metric.Meter {
	if p == nil || p.mp == nil {
		return otel.Meter(name)
	}
	return p.mp.Meter(name)
}

// ForceFlush exports every finished span that is still buffered.
func (p *Providers) ForceFlush(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and closes both pipelines. Nil and disabled Providers
// return nil.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
