package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ramiqadoumi/go-call-later/internal/version"
)

// TracerOption adjusts InitTracer.
type TracerOption func(*tracerConfig)

type tracerConfig struct {
	sampleRatio float64
}

// WithSampleRatio samples that fraction of root spans; child spans follow
// their parent. Values outside (0, 1] mean sample everything.
func WithSampleRatio(ratio float64) TracerOption {
	return func(c *tracerConfig) { c.sampleRatio = ratio }
}

// Sampler returns the sampler InitTracer installs for opts.
func Sampler(opts ...TracerOption) sdktrace.Sampler {
	cfg := tracerConfig{sampleRatio: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRatio <= 0 || cfg.sampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))
}

// InitTracer installs the W3C propagator and, when endpoint is set, an OTLP
// HTTP exporter (e.g. "localhost:4318"). Without an endpoint spans go to the
// default no-op provider while trace context still rides along with run
// requests through Kafka.
//
// The returned shutdown function flushes pending spans.
func InitTracer(ctx context.Context, serviceName, endpoint string, opts ...TracerOption) (shutdown func(), err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if endpoint == "" {
		return func() {}, nil
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
		),
		resource.WithProcess(),
		resource.WithOS(),
	)
	if err != nil || res == nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(opts...)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
