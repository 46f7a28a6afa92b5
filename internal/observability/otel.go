package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs the global tracer provider exporting over OTLP/HTTP.
// The returned function flushes and stops the provider.
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider.Shutdown, nil
}

// Metrics holds the domain counters shared by the ReadHub services.
type Metrics struct {
	RequestCount    metric.Int64Counter
	RequestDuration metric.Float64Histogram
	Borrows         metric.Int64Counter
	Returns         metric.Int64Counter
	BorrowRejected  metric.Int64Counter
	FeedbackQueued  metric.Int64Counter
	FeedbackFlushed metric.Int64Counter
}

// InitMetrics registers the instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("readhub")

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	borrows, err := meter.Int64Counter(
		"readhub.circulation.borrows",
		metric.WithDescription("Number of successful borrows"),
	)
	if err != nil {
		return nil, err
	}

	returns, err := meter.Int64Counter(
		"readhub.circulation.returns",
		metric.WithDescription("Number of successful returns"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"readhub.circulation.borrow_rejected",
		metric.WithDescription("Number of borrow attempts rejected by eligibility checks"),
	)
	if err != nil {
		return nil, err
	}

	queued, err := meter.Int64Counter(
		"readhub.feedback.queued",
		metric.WithDescription("Feedback submissions parked in the local outbox"),
	)
	if err != nil {
		return nil, err
	}

	flushed, err := meter.Int64Counter(
		"readhub.feedback.flushed",
		metric.WithDescription("Outbox entries delivered to the store"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:    requestCount,
		RequestDuration: requestDuration,
		Borrows:         borrows,
		Returns:         returns,
		BorrowRejected:  rejected,
		FeedbackQueued:  queued,
		FeedbackFlushed: flushed,
	}, nil
}

// NoopMetrics returns instruments bound to the global provider without
// failing; used by tests and tools that never export.
func NoopMetrics() *Metrics {
	m, err := InitMetrics()
	if err != nil {
		return &Metrics{}
	}
	return m
}

// Add increments c when it is configured.
func Add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
