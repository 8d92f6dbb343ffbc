// Package chunking is a hybrid text-chunking framework for long-form documents in Go.
//
// It splits documents into ordered, bounded-size chunks with a deterministic
// chunker, routes only structurally ambiguous chunks to an LLM refinement
// service, and applies the returned micro-edits (merge, drop, boundary nudges)
// without ever letting a refinement failure block the pipeline. Every chunk
// that goes in comes out — refined when the budget and the service allow,
// verbatim otherwise.
//
// # Quick Start
//
// Compose the pipeline from the primitives:
//
//	refiner := refine.New(apiKey, model, baseURL)
//	client := chunking.NewRefinementClient(refiner,
//		chunking.NewCircuitBreaker(5, 30*time.Second),
//		chunking.NewRateLimiter(60, time.Minute),
//	)
//	store := postgres.New(pool)
//	pipeline := ingest.NewPipeline(store, client)
//	processor := ingest.NewProcessor(store, pipeline)
//
//	coord, err := chunking.NewCoordinator(processor)
//	jobID, err := coord.SubmitJob(ctx, docIDs, chunking.PriorityHigh)
//
// # Core Interfaces
//
// Everything plugs together through small interfaces declared here:
//
//   - [Refiner] — LLM refinement backend (one chunk in, one verdict out)
//   - [DocumentSource] — read side of document storage
//   - [ChunkSink] / [ChunkBatch] — transactional write side for final chunks
//   - [Tracer] / [Meter] — optional observability hooks (nil-safe)
//
// # Included Implementations
//
// Refiners: refine (OpenAI-compatible chat endpoints).
// Storage: store/postgres (production), store/sqlite (local, zero-CGO).
// Observability: observer (OpenTelemetry traces, metrics, logs via OTLP).
//
// See the cmd/chunkd directory for a complete reference service.
package chunking
