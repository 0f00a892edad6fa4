// Package otelx installs the process-wide OpenTelemetry tracer provider and
// hands out named tracers for the server's components.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/toolsdir-web/internal/version"
	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

// dialTimeout bounds exporter setup. The collector is local.
const dialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Component string
	Version   string

	// Exporter replaces the OTLP exporter. Spans are exported synchronously.
	Exporter sdktrace.SpanExporter
}

// Init installs the global tracer provider and propagator and returns its
// shutdown func. When disabled, spans are still created (so trace ids reach
// logs and response headers) but never exported.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	var spanOpt sdktrace.TracerProviderOption
	if o.Exporter != nil {
		spanOpt = sdktrace.WithSyncer(o.Exporter)
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
		if o.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		exp, err := otlptracegrpc.New(dialCtx, opts...)
		if err != nil {
			return nil, xerrors.Wrapf(err, "otlp exporter endpoint=%s", o.Endpoint)
		}
		spanOpt = sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		)
	}

	component := o.Component
	if component == "" {
		component = "server"
	}
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(version.AppName+"."+component),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.Sample))),
		spanOpt,
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the tracer for one component, e.g. "directory".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(version.AppName + "/" + component)
}
