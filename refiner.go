package chunking

import "context"

// Refiner is the LLM backend for chunk refinement: one chunk in, one verdict
// out. The refine package provides an HTTP implementation for
// OpenAI-compatible endpoints; the observer package provides a tracing and
// metering wrapper. Implementations must be safe for concurrent use.
type Refiner interface {
	// Name identifies the backend for logs and metrics.
	Name() string

	// Refine asks the backend for a verdict on one chunk. A non-nil error
	// means no verdict was produced — callers keep the chunk unrefined.
	// The returned result, when non-nil, has already passed Validate.
	Refine(ctx context.Context, req RefineRequest) (*RefinementResult, error)
}

// RefineRequest carries one chunk plus bounded neighbor context to the
// refiner. PrevTail holds the trailing characters of the preceding chunk
// ("" for the first chunk), NextHead the leading characters of the following
// one ("" for the last). Neighbor previews stay small so request cost is
// dominated by the chunk itself.
type RefineRequest struct {
	Chunk        RawChunk
	Decision     RoutingDecision
	PrevTail     string
	NextHead     string
	DocumentMeta map[string]string
}
