package chunking

// Metric instrument names. The observer package registers these with OTEL;
// any Meter implementation must accept them.
const (
	MetricDocumentsProcessed = "documents_processed_total"
	MetricChunksCreated      = "chunks_created_total"
	MetricRefinementRequests = "refinement_requests_total"
	MetricRefinementSuccess  = "refinement_success_total"
	MetricBatchDuration      = "batch_processing_duration_seconds"
	MetricRefineDuration     = "refinement_response_duration_seconds"
	MetricChunkSizeWords     = "chunk_size_words"
	MetricActiveJobs         = "active_jobs"
	MetricJobQueueSize       = "job_queue_size"
	MetricBreakerOpen        = "circuit_breaker_open"
)

// Meter records operational metrics. The observer package provides an
// OTEL-backed implementation via NewMeter(). When no Meter is configured,
// recording is skipped (nil check), same contract as Tracer.
type Meter interface {
	// Count adds delta to a monotonic counter.
	Count(name string, delta int64, attrs ...SpanAttr)
	// Observe records one sample into a histogram.
	Observe(name string, value float64, attrs ...SpanAttr)
	// Gauge sets the current value of an up-down instrument.
	Gauge(name string, value int64, attrs ...SpanAttr)
}
