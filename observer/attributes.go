package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for chunking observability spans and metrics.
var (
	AttrRefinerName = attribute.Key("refiner.name")

	AttrChunkIndex    = attribute.Key("chunk.index")
	AttrChunkWords    = attribute.Key("chunk.words")
	AttrChunkStrategy = attribute.Key("chunk.strategy")

	AttrRefineAction     = attribute.Key("refine.action")
	AttrRefineConfidence = attribute.Key("refine.confidence")
)
