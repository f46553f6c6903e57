// Package telemetry sets up tracing for the gateway. Spans are exported
// over OTLP/HTTP when AEGIS_OTEL_ENDPOINT is set; without it the tracer
// provider is local-only so instrumentation stays cheap but inert.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.25.0"
)

const defaultService = "aegis-gateway"

// Init installs the global tracer provider and returns its shutdown
// function. When AEGIS_OTEL_REQUIRED is set an exporter failure aborts
// startup; otherwise the gateway logs and runs without export.
func Init(ctx context.Context, service string) (func(context.Context) error, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		service = defaultService
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	sampler := trace.ParentBased(trace.TraceIDRatioBased(sampleRatio()))

	endpoint := strings.TrimSpace(os.Getenv("AEGIS_OTEL_ENDPOINT"))
	if endpoint == "" {
		return install(trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithSampler(sampler),
		)), nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(exportTimeout()),
	}
	if strings.EqualFold(os.Getenv("AEGIS_OTEL_INSECURE"), "true") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if h := headerMap(os.Getenv("AEGIS_OTEL_HEADERS")); len(h) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(h))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		if strings.EqualFold(os.Getenv("AEGIS_OTEL_REQUIRED"), "true") {
			return nil, err
		}
		log.Printf("trace export disabled: %v", err)
		return install(trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithSampler(sampler),
		)), nil
	}
	return install(trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(sampler),
		trace.WithBatcher(exporter),
	)), nil
}

func install(tp *trace.TracerProvider) func(context.Context) error {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown
}

// sampleRatio reads AEGIS_OTEL_SAMPLE_RATIO, clamped to [0,1]. Default
// is 1: the gateway is the audit choke point, so full tracing is the
// expected posture.
func sampleRatio() float64 {
	raw := strings.TrimSpace(os.Getenv("AEGIS_OTEL_SAMPLE_RATIO"))
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func exportTimeout() time.Duration {
	if raw := strings.TrimSpace(os.Getenv("AEGIS_OTEL_TIMEOUT_SEC")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

// headerMap parses "k=v,k2=v2" exporter headers, dropping malformed
// pairs rather than failing startup over them.
func headerMap(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// HTTPMiddleware wraps inbound handlers in server spans.
func HTTPMiddleware(service string) func(http.Handler) http.Handler {
	if strings.TrimSpace(service) == "" {
		service = defaultService
	}
	return otelhttp.NewMiddleware(service)
}

// InstrumentClient adds span propagation to outbound provider and anchor
// calls.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}
