// Package otel provides OpenTelemetry tracer provider initialization and the
// attributes recorded on the capture span.
package otel

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mrzor/logincap/internal/config"
)

// TracerName names the tracer spans are created with.
const TracerName = "github.com/mrzor/logincap"

// Span attribute keys.
const (
	AttrTargetPID     = attribute.Key("logincap.target.pid")
	AttrTargetName    = attribute.Key("logincap.target.name")
	AttrHeaderCount   = attribute.Key("logincap.headers")
	AttrNotifications = attribute.Key("logincap.notifications")
	AttrDiscarded     = attribute.Key("logincap.discarded")
	AttrRejected      = attribute.Key("logincap.rejected")
)

// InitProvider builds a tracer provider exporting over OTLP/HTTP.
//
// The HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY through the
// standard net/http transport.
func InitProvider(cfg *config.OTELConfig, version string, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := cfg.GetEndpoint()
	logger.Debug("OTEL configuration",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", endpoint),
		zap.String("resource_attributes", cfg.ResourceAttributes),
	)

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create OTLP trace exporter")
	}

	resourceAttrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	}
	if customAttrs := cfg.ParseResourceAttributes(); len(customAttrs) > 0 {
		resourceAttrs = append(resourceAttrs, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, resourceAttrs...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// Setup returns the tracer for a run and a function flushing it. Without a
// configured endpoint the tracer is a no-op and nothing is exported.
func Setup(cfg *config.OTELConfig, version string, logger *zap.Logger) (trace.Tracer, func(), error) {
	if !cfg.Enabled() {
		return noop.NewTracerProvider().Tracer(TracerName), func() {}, nil
	}

	tp, err := InitProvider(cfg, version, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ShutdownProvider(ctx, tp); err != nil {
			logger.Warn("shutting down OTEL provider", zap.Error(err))
		}
	}
	return tp.Tracer(TracerName), cleanup, nil
}

// ShutdownProvider flushes remaining spans and stops the provider.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown tracer provider")
	}
	return nil
}
