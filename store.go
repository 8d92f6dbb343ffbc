package chunking

import "context"

// DocumentSource is the read side of document storage. The processor loads
// batches by ID; the coordinator's discovery loop asks for backlog.
type DocumentSource interface {
	// LoadDocuments fetches documents by ID. Unknown IDs are omitted from
	// the result rather than failing the call — the processor reports them
	// as permanent failures by comparing against what it asked for.
	LoadDocuments(ctx context.Context, ids []string) ([]Document, error)

	// FindUnprocessed returns IDs of documents that have no stored chunks,
	// oldest first, up to limit.
	FindUnprocessed(ctx context.Context, limit int) ([]string, error)
}

// ChunkSink is the write side of chunk storage. BeginBatch opens one atomic
// scope per pipeline batch: every document's chunks inside it become visible
// together at Commit, or not at all.
type ChunkSink interface {
	BeginBatch(ctx context.Context) (ChunkBatch, error)
}

// ChunkBatch is one transactional write scope. Not safe for concurrent use;
// the pipeline writes from a single goroutine. Rollback after Commit is a
// no-op, which makes `defer batch.Rollback(ctx)` safe.
type ChunkBatch interface {
	// UpsertChunks replaces a document's chunks with the given set.
	// Re-processing a document is idempotent: prior chunks are deleted in
	// the same scope before the new ones are written.
	UpsertChunks(ctx context.Context, documentID string, chunks []FinalChunk) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the full persistence contract implemented by store/postgres and
// store/sqlite.
type Store interface {
	DocumentSource
	ChunkSink

	// --- Documents ---
	StoreDocument(ctx context.Context, doc Document) error
	ListChunks(ctx context.Context, documentID string) ([]FinalChunk, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
