// Package memstore provides an in-memory VectorStore and ConversationStore.
//
// It backs tests and single-process deployments, and its maps are exactly
// the "live memory maps" the backup pipeline bulk-mutates through the
// storage.BulkWriter interface.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Store is an in-memory document store with naive text scoring and cosine
// vector similarity. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*types.MemoryDocument
}

var (
	_ storage.VectorStore = (*Store)(nil)
	_ storage.BulkWriter  = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]*types.MemoryDocument)}
}

// Put inserts or replaces a single document. This is the normal write path.
func (s *Store) Put(ctx context.Context, doc *types.MemoryDocument) error {
	if doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = cloneDoc(doc)
	return nil
}

// Get retrieves a document by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneDoc(doc), nil
}

// Search ranks documents against a text query using token overlap between
// the query and document content plus topic matches.
func (s *Store) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTokens := tokenize(query)
	var results []storage.ScoredDocument
	for _, doc := range s.docs {
		if !matchesFilters(doc, opts) {
			continue
		}
		score := textScore(queryTokens, doc)
		if score < opts.MinScore {
			continue
		}
		results = append(results, storage.ScoredDocument{Document: cloneDoc(doc), Score: score})
	}

	return sortAndTruncate(results, opts.Limit), nil
}

// SearchByVector ranks documents by cosine similarity to vector.
func (s *Store) SearchByVector(ctx context.Context, vector []float32, opts storage.SearchOptions) ([]storage.ScoredDocument, error) {
	if len(vector) == 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.ScoredDocument
	for _, doc := range s.docs {
		if len(doc.Vector) != len(vector) {
			continue
		}
		if !matchesFilters(doc, opts) {
			continue
		}
		score := cosineSimilarity(vector, doc.Vector)
		if score < opts.MinScore {
			continue
		}
		results = append(results, storage.ScoredDocument{Document: cloneDoc(doc), Score: score})
	}

	return sortAndTruncate(results, opts.Limit), nil
}

// Clear removes all documents.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
		s.docs[doc.ID] = cloneDoc(doc)
	}
	return nil
}

// ReplaceAll clears the store and installs docs as the new content.
func (s *Store) ReplaceAll(ctx context.Context, docs []*types.MemoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*types.MemoryDocument, len(docs))
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return storage.ErrInvalidInput
		}
		next[doc.ID] = cloneDoc(doc)
	}
	s.docs = next
	return nil
}

// All returns every stored document. Order is unspecified.
func (s *Store) All(ctx context.Context) ([]*types.MemoryDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MemoryDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, cloneDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
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

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// textScore is the fraction of query tokens present in the document
// content, with a small bonus for topic hits, capped at 1.0.
func textScore(queryTokens []string, doc *types.MemoryDocument) float64 {
	if len(queryTokens) == 0 {
		return 1.0
	}
	contentLower := strings.ToLower(doc.Content)
	matched := 0
	for _, tok := range queryTokens {
		if strings.Contains(contentLower, tok) {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	for _, topic := range doc.Metadata.Topics {
		for _, tok := range queryTokens {
			if tok == topic {
				score += 0.1
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Map [-1, 1] onto [0, 1] so scores stay comparable with text scores.
	return (sim + 1) / 2
}

// sortAndTruncate orders by score descending with ID as the deterministic
// tie-break, then truncates to limit when limit > 0.
func sortAndTruncate(results []storage.ScoredDocument, limit int) []storage.ScoredDocument {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func cloneDoc(doc *types.MemoryDocument) *types.MemoryDocument {
	out := *doc
	out.Vector = append([]float32(nil), doc.Vector...)
	out.Metadata.Topics = append([]string(nil), doc.Metadata.Topics...)
	out.Metadata.Tags = append([]string(nil), doc.Metadata.Tags...)
	out.Metadata.SummarizedIDs = append([]string(nil), doc.Metadata.SummarizedIDs...)
	return &out
}
