// Package chromem implements the storage collaborator on top of
// chromem-go, a pure-Go embedded vector database.
//
// Documents are mirrored in a side map so Get, filtering and stats work
// without round-tripping through the vector index; chromem only answers
// similarity queries.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

const collectionName = "memories"

// Store wraps a chromem-go collection behind storage.VectorStore and
// storage.BulkWriter. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	db        *chromem.DB
	col       *chromem.Collection
	embedding chromem.EmbeddingFunc
	docs      map[string]*types.MemoryDocument
}

var (
	_ storage.VectorStore = (*Store)(nil)
	_ storage.BulkWriter  = (*Store)(nil)
)

// New creates a Store. embedding is used to embed text queries and any
// document stored without a vector; it must not be nil.
func New(embedding chromem.EmbeddingFunc) (*Store, error) {
	if embedding == nil {
		return nil, fmt.Errorf("chromem: embedding function is required")
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, embedding)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}
	return &Store{
		db:        db,
		col:       col,
		embedding: embedding,
		docs:      make(map[string]*types.MemoryDocument),
	}, nil
}

// Put inserts or replaces a single document.
func (s *Store) Put(ctx context.Context, doc *types.MemoryDocument) error {
	if doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ctx, doc)
}

func (s *Store) addLocked(ctx context.Context, doc *types.MemoryDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("chromem: marshal metadata: %w", err)
	}
	cd := chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Vector,
		Metadata:  map[string]string{"metadata": string(meta)},
	}
	if err := s.col.AddDocument(ctx, cd); err != nil {
		return fmt.Errorf("chromem: add document %s: %w", doc.ID, err)
	}
	clone := *doc
	s.docs[doc.ID] = &clone
	return nil
}

// Search embeds the query text and ranks documents by similarity.
func (s *Store) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	vector, err := s.embedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chromem: embed query: %w", err)
	}
	return s.SearchByVector(ctx, vector, opts)
}

// SearchByVector ranks documents by cosine similarity to vector.
func (s *Store) SearchByVector(ctx context.Context, vector []float32, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering by source type and importance does not
	// starve the caller; chromem rejects nResults above the collection size.
	n := opts.Limit * 4
	if n <= 0 || n > count {
		n = count
	}

	results, err := s.col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	var out []storage.ScoredDocument
	for _, r := range results {
		doc, ok := s.docs[r.ID]
		if !ok {
			continue
		}
		score := float64(r.Similarity)
		if score < opts.MinScore {
			continue
		}
		if !matchesFilters(doc, opts) {
			continue
		}
		clone := *doc
		out = append(out, storage.ScoredDocument{Document: &clone, Score: score})
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Get retrieves a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

// All returns every stored document, sorted by ID. Used by export.
func (s *Store) All(ctx context.Context) ([]*types.MemoryDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.MemoryDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		clone := *doc
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Clear removes all documents and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

func (s *Store) clearLocked() error {
	if err := s.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("chromem: delete collection: %w", err)
	}
	col, err := s.db.CreateCollection(collectionName, nil, s.embedding)
	if err != nil {
		return fmt.Errorf("chromem: recreate collection: %w", err)
	}
	s.col = col
	s.docs = make(map[string]*types.MemoryDocument)
	return nil
}

// GetStats reports document count and average importance.
func (s *Store) GetStats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalVectors: len(s.docs)}
	if len(s.docs) == 0 {
		return stats, nil
	}
	sum := 0.0
	for _, doc := range s.docs {
		sum += doc.Metadata.Importance
	}
	stats.AverageImportance = sum / float64(len(s.docs))
	return stats, nil
}

// UpsertMany inserts or replaces documents by ID.
func (s *Store) UpsertMany(ctx context.Context, docs []*types.MemoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return storage.ErrInvalidInput
		}
		if err := s.addLocked(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAll clears the store and installs docs as the new content.
func (s *Store) ReplaceAll(ctx context.Context, docs []*types.MemoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.clearLocked(); err != nil {
		return err
	}
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return storage.ErrInvalidInput
		}
		if err := s.addLocked(ctx, doc); err != nil {
			return err
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
