package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig carries what InitProvider needs to set up the OpenTelemetry
// SDK.
type ProviderConfig struct {
	// ServiceName is reported in telemetry resources. Default: "tandem".
	ServiceName string

	// ServiceVersion is reported in telemetry resources.
	ServiceVersion string

	// TraceExporter receives finished spans. Leave nil to record spans
	// without exporting them, which is enough for correlation IDs and tests.
	// A deployment that ships traces plugs an OTLP exporter in here.
	TraceExporter sdktrace.SpanExporter
}

// shutdownChain aggregates provider shutdown funcs into one call.
type shutdownChain []func(context.Context) error

func (c shutdownChain) run(ctx context.Context) error {
	var errs []error
	for _, fn := range c {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// identity merges the service attributes over the SDK's default resource.
func (cfg ProviderConfig) identity() (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "tandem"
	}
	attrs := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(name), semconv.ServiceVersion(cfg.ServiceVersion))
	return resource.Merge(resource.Default(), attrs)
}

// InitProvider installs the OTel SDK globals: a meter provider bridged to
// Prometheus so /metrics can be scraped, and a tracer provider feeding the
// configured exporter. The returned shutdown flushes both; defer it from
// main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := cfg.identity()
	if err != nil {
		return nil, err
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return shutdownChain{mp.Shutdown, tp.Shutdown}.run, nil
}
