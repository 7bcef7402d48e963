// Package postgres implements the storage collaborator on PostgreSQL with
// the pgvector extension. Suitable when the document set outgrows the
// embedded stores.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Store is a pgvector-backed document store.
type Store struct {
	db        *sql.DB
	dimension int
}

var (
	_ storage.VectorStore = (*Store)(nil)
	_ storage.BulkWriter  = (*Store)(nil)
)

// schemaSQL creates the documents table. The embedding column dimension is
// fixed at store creation; documents without vectors store NULL.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	metadata  JSONB NOT NULL,
	embedding vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
	ON documents USING ivfflat (embedding vector_cosine_ops);
`

// New opens a connection and ensures the schema exists. dimension is the
// embedding width; vectors of any other width are rejected on write.
func New(dsn string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("postgres: embedding dimension must be positive, got %d", dimension)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(schemaSQL, dimension)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &Store{db: db, dimension: dimension}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a single document.
func (s *Store) Put(ctx context.Context, doc *types.MemoryDocument) error {
	if doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	var embedding interface{}
	if len(doc.Vector) > 0 {
		if len(doc.Vector) != s.dimension {
			return fmt.Errorf("postgres: vector dimension %d does not match store dimension %d", len(doc.Vector), s.dimension)
		}
		embedding = pgvector.NewVector(doc.Vector)
	}

	const upsertSQL = `
		INSERT INTO documents (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`
	if _, err := s.db.ExecContext(ctx, upsertSQL, doc.ID, doc.Content, meta, embedding); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Search performs full-text search with ts_rank scoring clamped to [0, 1].
func (s *Store) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	const querySQL = `
		SELECT id, content, metadata,
			LEAST(ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)), 1.0) AS score
		FROM documents
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC, id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, querySQL, query, limit*4)
	if err != nil {
		return nil, fmt.Errorf("postgres: search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	return s.collect(rows, opts, limit)
}

// SearchByVector ranks documents by pgvector cosine similarity.
func (s *Store) SearchByVector(ctx context.Context, vector []float32, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("postgres: query vector dimension %d does not match store dimension %d", len(vector), s.dimension)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	const querySQL = `
		SELECT id, content, metadata,
			1 - (embedding <=> $1) AS score
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, querySQL, pgvector.NewVector(vector), limit*4)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.collect(rows, opts, limit)
}

// collect scans scored rows and applies the metadata filters SQL did not.
func (s *Store) collect(rows *sql.Rows, opts storage.SearchOptions, limit int) ([]storage.ScoredDocument, error) {
	var out []storage.ScoredDocument
	for rows.Next() {
		var (
			doc   types.MemoryDocument
			meta  []byte
			score float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal metadata for %s: %w", doc.ID, err)
		}
		if score < opts.MinScore {
			continue
		}
		if !matchesFilters(&doc, opts) {
			continue
		}
		d := doc
		out = append(out, storage.ScoredDocument{Document: &d, Score: score})
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// Get retrieves a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryDocument, error) {
	const getSQL = `SELECT id, content, metadata FROM documents WHERE id = $1`

	var (
		doc  types.MemoryDocument
		meta []byte
	)
	err := s.db.QueryRowContext(ctx, getSQL, id).Scan(&doc.ID, &doc.Content, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal metadata for %s: %w", id, err)
	}
	return &doc, nil
}

// All returns every stored document, including vectors. Used by export.
func (s *Store) All(ctx context.Context) ([]*types.MemoryDocument, error) {
	const allSQL = `SELECT id, content, metadata, embedding FROM documents ORDER BY id`

	rows, err := s.db.QueryContext(ctx, allSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.MemoryDocument
	for rows.Next() {
		var (
			doc  types.MemoryDocument
			meta []byte
			vec  sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &vec); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal metadata for %s: %w", doc.ID, err)
		}
		if vec.Valid {
			doc.Vector = vec.V.Slice()
		}
		d := doc
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// Clear removes all documents.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	return nil
}

// GetStats reports document count and average importance.
func (s *Store) GetStats(ctx context.Context) (*storage.Stats, error) {
	const statsSQL = `
		SELECT COUNT(*),
			COALESCE(AVG((metadata->>'importance')::float), 0)
		FROM documents
	`
	stats := &storage.Stats{}
	if err := s.db.QueryRowContext(ctx, statsSQL).Scan(&stats.TotalVectors, &stats.AverageImportance); err != nil {
		return nil, fmt.Errorf("postgres: stats: %w", err)
	}
	return stats, nil
}

// UpsertMany inserts or replaces documents inside one transaction.
func (s *Store) UpsertMany(ctx context.Context, docs []*types.MemoryDocument) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertManyTx(ctx, tx, docs, s.dimension)
	})
}

// ReplaceAll clears the table and installs docs inside one transaction.
func (s *Store) ReplaceAll(ctx context.Context, docs []*types.MemoryDocument) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return fmt.Errorf("postgres: clear: %w", err)
		}
		return upsertManyTx(ctx, tx, docs, s.dimension)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func upsertManyTx(ctx context.Context, tx *sql.Tx, docs []*types.MemoryDocument, dimension int) error {
	const upsertSQL = `
		INSERT INTO documents (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return storage.ErrInvalidInput
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		var embedding interface{}
		if len(doc.Vector) > 0 {
			if len(doc.Vector) != dimension {
				return fmt.Errorf("postgres: vector dimension %d does not match store dimension %d", len(doc.Vector), dimension)
			}
			embedding = pgvector.NewVector(doc.Vector)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, doc.ID, doc.Content, meta, embedding); err != nil {
			return fmt.Errorf("postgres: upsert %s: %w", doc.ID, err)
		}
	}
	return nil
}

func matchesFilters(doc *types.MemoryDocument, opts storage.SearchOptions) bool {
	if opts.SourceType != "" && doc.Metadata.SourceType != opts.SourceType {
		return false
	}
	if doc.Metadata.Importance < opts.MinImportance {
		return false
	}
	if doc.Metadata.IsSummary && !opts.IncludeSummaries {
		return false
	}
	if len(opts.Topics) > 0 && !hasAny(doc.Metadata.Topics, opts.Topics) {
		return false
	}
	if len(opts.Tags) > 0 && !hasAny(doc.Metadata.Tags, opts.Tags) {
		return false
	}
	return true
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
