// Package observer provides OTEL-based observability for the chunking
// pipeline.
//
// It implements the root Meter and Tracer interfaces on top of OpenTelemetry
// and wraps Refiner with an instrumented version that emits traces, metrics,
// and logs. Users export to any OTEL-compatible backend by setting standard
// OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	chunking "github.com/langgraphsystem/rssnews-sub004"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/langgraphsystem/rssnews-sub004/observer"

// Instruments bundles the OTEL instruments shared by the meter, the
// observed refiner, and the log emission path.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	DocumentsProcessed metric.Int64Counter
	ChunksCreated      metric.Int64Counter
	RefinementRequests metric.Int64Counter
	RefinementSuccess  metric.Int64Counter

	// Histograms
	BatchDuration  metric.Float64Histogram
	RefineDuration metric.Float64Histogram
	ChunkSizeWords metric.Float64Histogram

	// Gauges
	ActiveJobs   metric.Int64Gauge
	JobQueueSize metric.Int64Gauge
	BreakerOpen  metric.Int64Gauge
}

// Init installs OTLP HTTP trace, metric, and log providers globally and
// registers every pipeline instrument. Endpoint, headers, and protocol come
// from the standard OTEL_EXPORTER_OTLP_* environment variables. The returned
// shutdown flushes all three providers; call it on exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("chunkd")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	documentsProcessed, err := meter.Int64Counter(chunking.MetricDocumentsProcessed,
		metric.WithDescription("Documents fully processed and committed"),
		metric.WithUnit("{document}"))
	if err != nil {
		return nil, err
	}

	chunksCreated, err := meter.Int64Counter(chunking.MetricChunksCreated,
		metric.WithDescription("Final chunks written to storage"),
		metric.WithUnit("{chunk}"))
	if err != nil {
		return nil, err
	}

	refinementRequests, err := meter.Int64Counter(chunking.MetricRefinementRequests,
		metric.WithDescription("Refinement requests sent to the LLM"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	refinementSuccess, err := meter.Int64Counter(chunking.MetricRefinementSuccess,
		metric.WithDescription("Refinement requests that returned a usable verdict"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(chunking.MetricBatchDuration,
		metric.WithDescription("Wall-clock duration of one pipeline batch"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	refineDuration, err := meter.Float64Histogram(chunking.MetricRefineDuration,
		metric.WithDescription("Refiner response duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	chunkSizeWords, err := meter.Float64Histogram(chunking.MetricChunkSizeWords,
		metric.WithDescription("Word count of emitted chunks"),
		metric.WithUnit("{word}"))
	if err != nil {
		return nil, err
	}

	activeJobs, err := meter.Int64Gauge(chunking.MetricActiveJobs,
		metric.WithDescription("Jobs currently running"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}

	jobQueueSize, err := meter.Int64Gauge(chunking.MetricJobQueueSize,
		metric.WithDescription("Jobs waiting in the priority queue"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}

	breakerOpen, err := meter.Int64Gauge(chunking.MetricBreakerOpen,
		metric.WithDescription("1 while the refinement circuit breaker is open"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:             tracer,
		Meter:              meter,
		Logger:             logger,
		DocumentsProcessed: documentsProcessed,
		ChunksCreated:      chunksCreated,
		RefinementRequests: refinementRequests,
		RefinementSuccess:  refinementSuccess,
		BatchDuration:      batchDuration,
		RefineDuration:     refineDuration,
		ChunkSizeWords:     chunkSizeWords,
		ActiveJobs:         activeJobs,
		JobQueueSize:       jobQueueSize,
		BreakerOpen:        breakerOpen,
	}, nil
}
