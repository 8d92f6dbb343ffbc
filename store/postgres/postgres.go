// Package postgres implements chunking.Store using PostgreSQL.
//
// The Store accepts a *pgxpool.Pool via constructor injection and takes
// ownership of it: Close closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// Store implements chunking.Store backed by PostgreSQL. Batch writes run in
// a single pgx transaction so a whole pipeline batch commits atomically.
type Store struct {
	pool *pgxpool.Pool
}

var _ chunking.Store = (*Store)(nil)

// New creates a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the documents and chunks tables with their indexes. Every
// statement is IF NOT EXISTS, so repeated calls are harmless.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS documents_created_idx ON documents(created_at)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			word_count INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			semantic_type TEXT NOT NULL DEFAULT '',
			refined BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB,
			UNIQUE(document_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Documents ---

// StoreDocument inserts or replaces a document.
func (s *Store) StoreDocument(ctx context.Context, doc chunking.Document) error {
	var metaJSON *string
	if len(doc.Metadata) > 0 {
		data, _ := json.Marshal(doc.Metadata)
		v := string(data)
		metaJSON = &v
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, title, source, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   content = EXCLUDED.content,
		   metadata = EXCLUDED.metadata,
		   created_at = EXCLUDED.created_at`,
		doc.ID, doc.Title, doc.Source, doc.Content, metaJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: store document: %w", err)
	}
	return nil
}

// LoadDocuments fetches documents by ID, returned in request order.
// Unknown IDs are omitted rather than failing the call.
func (s *Store) LoadDocuments(ctx context.Context, ids []string) ([]chunking.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, source, content, metadata, created_at
		 FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: load documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]chunking.Document, len(ids))
	for rows.Next() {
		var d chunking.Document
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &metaJSON, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &d.Metadata)
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate documents: %w", err)
	}

	docs := make([]chunking.Document, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			docs = append(docs, d)
			delete(byID, id) // repeated request IDs load once
		}
	}
	return docs, nil
}

// FindUnprocessed returns IDs of documents that have no stored chunks,
// oldest first, up to limit.
func (s *Store) FindUnprocessed(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id FROM documents d
		 WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		 ORDER BY d.created_at ASC, d.id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find unprocessed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Chunks ---

// ListChunks returns a document's stored chunks ordered by index.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]chunking.FinalChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_index, content, char_start, char_end, word_count, strategy, semantic_type, refined, metadata
		 FROM chunks WHERE document_id = $1
		 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []chunking.FinalChunk
	for rows.Next() {
		var c chunking.FinalChunk
		var strategy, semanticType string
		var metaJSON []byte
		if err := rows.Scan(&c.Index, &c.Text, &c.CharStart, &c.CharEnd, &c.WordCount, &strategy, &semanticType, &c.Refined, &metaJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		c.Strategy = chunking.ChunkStrategy(strategy)
		c.SemanticType = chunking.SemanticType(semanticType)
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// BeginBatch opens one transactional write scope for a pipeline batch.
func (s *Store) BeginBatch(ctx context.Context) (chunking.ChunkBatch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin batch: %w", err)
	}
	return &batch{tx: tx}, nil
}

// batch is one pgx transaction implementing chunking.ChunkBatch.
// Not safe for concurrent use; the pipeline writes from a single goroutine.
type batch struct {
	tx   pgx.Tx
	done bool
}

var _ chunking.ChunkBatch = (*batch)(nil)

// UpsertChunks replaces a document's chunks inside the batch transaction.
// Prior chunks are deleted in the same scope, so re-processing a document
// is idempotent.
func (b *batch) UpsertChunks(ctx context.Context, documentID string, chunks []chunking.FinalChunk) error {
	if _, err := b.tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("postgres: delete prior chunks: %w", err)
	}

	for _, c := range chunks {
		var metaJSON *string
		if c.Metadata != nil {
			data, _ := json.Marshal(c.Metadata)
			v := string(data)
			metaJSON = &v
		}

		_, err := b.tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, content, char_start, char_end, word_count, strategy, semantic_type, refined, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)`,
			chunking.NewID(), documentID, c.Index, c.Text, c.CharStart, c.CharEnd, c.WordCount,
			string(c.Strategy), string(c.SemanticType), c.Refined, metaJSON)
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}
	return nil
}

// Commit makes the batch's writes visible. Repeated calls are no-ops.
func (b *batch) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	b.done = true
	return nil
}

// Rollback aborts the batch. After Commit it is a no-op, which makes
// `defer batch.Rollback(ctx)` safe.
func (b *batch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback batch: %w", err)
	}
	return nil
}
