// Package sqlite implements chunking.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	chunking "github.com/langgraphsystem/rssnews-sub004"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures the SQLite Store constructor.
type StoreOption func(*Store)

// WithLogger attaches a structured logger. Every store operation then
// logs at debug level with its timing and row counts; without a logger
// the store is silent.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements chunking.Store backed by a local SQLite file.
// Chunk batches run in a database/sql transaction so a whole pipeline
// batch commits atomically.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ chunking.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store backed by the SQLite file at dbPath (":memory:" for an
// in-memory database). The pool is capped at one connection so every
// goroutine writes through it in turn; SQLITE_BUSY cannot happen when there
// is never a second writer.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// Only an unregistered driver makes sql.Open fail, and the blank
		// import above registers it.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the documents and chunks tables plus their indexes,
// all IF NOT EXISTS.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
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
			refined INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			UNIQUE(document_id, chunk_index)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Index the lookup columns; failures here are non-fatal.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Documents ---

// StoreDocument inserts or replaces a document.
func (s *Store) StoreDocument(ctx context.Context, doc chunking.Document) error {
	start := time.Now()
	s.logger.Debug("sqlite: store document", "id", doc.ID, "source", doc.Source, "content_len", len(doc.Content))

	var metaJSON *string
	if len(doc.Metadata) > 0 {
		data, _ := json.Marshal(doc.Metadata)
		v := string(data)
		metaJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Content, metaJSON, doc.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: store document failed", "id", doc.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("store document: %w", err)
	}
	s.logger.Debug("sqlite: store document ok", "id", doc.ID, "duration", time.Since(start))
	return nil
}

// LoadDocuments fetches documents by ID, returned in request order.
// Unknown IDs are omitted rather than failing the call.
func (s *Store) LoadDocuments(ctx context.Context, ids []string) ([]chunking.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: load documents", "count", len(ids))

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, title, source, content, metadata, created_at
		 FROM documents WHERE id IN (%s)`, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		s.logger.Error("sqlite: load documents failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]chunking.Document, len(ids))
	for rows.Next() {
		var d chunking.Document
		var metaJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &metaJSON, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &d.Metadata)
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	docs := make([]chunking.Document, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			docs = append(docs, d)
			delete(byID, id) // repeated request IDs load once
		}
	}
	s.logger.Debug("sqlite: load documents ok", "requested", len(ids), "found", len(docs), "duration", time.Since(start))
	return docs, nil
}

// FindUnprocessed returns IDs of documents that have no stored chunks,
// oldest first, up to limit.
func (s *Store) FindUnprocessed(ctx context.Context, limit int) ([]string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: find unprocessed", "limit", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id FROM documents d
		 WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		 ORDER BY d.created_at ASC, d.id ASC
		 LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("sqlite: find unprocessed failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("find unprocessed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	s.logger.Debug("sqlite: find unprocessed ok", "found", len(ids), "duration", time.Since(start))
	return ids, rows.Err()
}

// --- Chunks ---

// ListChunks returns a document's stored chunks ordered by index.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]chunking.FinalChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list chunks", "document_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, content, char_start, char_end, word_count, strategy, semantic_type, refined, metadata
		 FROM chunks WHERE document_id = ?
		 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		s.logger.Error("sqlite: list chunks failed", "document_id", documentID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []chunking.FinalChunk
	for rows.Next() {
		var c chunking.FinalChunk
		var strategy, semanticType string
		var refined int
		var metaJSON sql.NullString
		if err := rows.Scan(&c.Index, &c.Text, &c.CharStart, &c.CharEnd, &c.WordCount, &strategy, &semanticType, &refined, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Strategy = chunking.ChunkStrategy(strategy)
		c.SemanticType = chunking.SemanticType(semanticType)
		c.Refined = refined != 0
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	s.logger.Debug("sqlite: list chunks ok", "document_id", documentID, "count", len(chunks), "duration", time.Since(start))
	return chunks, rows.Err()
}

// BeginBatch opens one transactional write scope for a pipeline batch.
func (s *Store) BeginBatch(ctx context.Context) (chunking.ChunkBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	s.logger.Debug("sqlite: batch started")
	return &batch{tx: tx, logger: s.logger}, nil
}

// batch is one database/sql transaction implementing chunking.ChunkBatch.
// Not safe for concurrent use; the pipeline writes from a single goroutine.
type batch struct {
	tx     *sql.Tx
	logger *slog.Logger
	done   bool
}

var _ chunking.ChunkBatch = (*batch)(nil)

// UpsertChunks replaces a document's chunks inside the batch transaction.
// Prior chunks are deleted in the same scope, so re-processing a document
// is idempotent.
func (b *batch) UpsertChunks(ctx context.Context, documentID string, chunks []chunking.FinalChunk) error {
	start := time.Now()
	b.logger.Debug("sqlite: upsert chunks", "document_id", documentID, "count", len(chunks))

	if _, err := b.tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}

	for _, c := range chunks {
		var metaJSON *string
		if c.Metadata != nil {
			data, _ := json.Marshal(c.Metadata)
			v := string(data)
			metaJSON = &v
		}

		_, err := b.tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, content, char_start, char_end, word_count, strategy, semantic_type, refined, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chunking.NewID(), documentID, c.Index, c.Text, c.CharStart, c.CharEnd, c.WordCount,
			string(c.Strategy), string(c.SemanticType), boolToInt(c.Refined), metaJSON,
		)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	b.logger.Debug("sqlite: upsert chunks ok", "document_id", documentID, "duration", time.Since(start))
	return nil
}

// Commit makes the batch's writes visible. Repeated calls are no-ops.
func (b *batch) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.done = true
	b.logger.Debug("sqlite: batch committed")
	return nil
}

// Rollback aborts the batch. After Commit it is a no-op, which makes
// `defer batch.Rollback(ctx)` safe.
func (b *batch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
