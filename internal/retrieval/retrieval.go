// Package retrieval recomputes a combined relevance score over raw
// similarity-search results: semantic similarity, importance, recency
// decay and topic overlap, with configurable weights and boosts.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

const (
	// recencyWindowHours is the linear decay horizon: a document older
	// than this scores zero recency (7 days).
	recencyWindowHours = 168.0

	// topicBonusPerMatch is added per topic shared between query and document.
	topicBonusPerMatch = 0.1

	importanceBoostFloor      = 0.7
	importanceBoostMultiplier = 1.10
	recencyBoostFloor         = 0.8
	recencyBoostMultiplier    = 1.05
	sameSessionMultiplier     = 1.2
)

// Options configures a search call.
type Options struct {
	// Limit is the maximum number of results (default: 10).
	Limit int

	// MinScore is the minimum final score a result must reach (0.0 to 1.0).
	MinScore float64

	// MinImportance filters candidates below this importance at the store.
	MinImportance float64

	// SourceTypes restricts results to these source types; empty means all.
	SourceTypes []types.SourceType

	// Topics and Tags are passed through to the store as candidate filters.
	Topics []string
	Tags   []string

	// IncludeSummaries includes summary documents (default true via Normalize).
	IncludeSummaries bool

	// BoostByImportance applies the high-importance multiplier.
	BoostByImportance bool

	// BoostByRecency applies the fresh-result multiplier.
	BoostByRecency bool

	// Score weights. Defaults: semantic 0.5, importance 0.3, recency 0.2.
	SemanticWeight   float64
	ImportanceWeight float64
	RecencyWeight    float64
}

// DefaultOptions returns the standard search options.
func DefaultOptions() Options {
	return Options{
		Limit:             10,
		MinScore:          0.3,
		IncludeSummaries:  true,
		BoostByImportance: true,
		BoostByRecency:    true,
		SemanticWeight:    0.5,
		ImportanceWeight:  0.3,
		RecencyWeight:     0.2,
	}
}

// Normalize applies defaults to zero-valued fields.
func (o *Options) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.SemanticWeight == 0 && o.ImportanceWeight == 0 && o.RecencyWeight == 0 {
		d := DefaultOptions()
		o.SemanticWeight = d.SemanticWeight
		o.ImportanceWeight = d.ImportanceWeight
		o.RecencyWeight = d.RecencyWeight
	}
}

// Result is a document with its recomputed score breakdown.
type Result struct {
	Document *types.MemoryDocument

	// SemanticScore is the raw similarity returned by the store.
	SemanticScore float64

	// ImportanceScore is the document importance.
	ImportanceScore float64

	// RecencyScore decays linearly from 1 to 0 over seven days.
	RecencyScore float64

	// TopicBonus is 0.1 per topic shared between query and document.
	TopicBonus float64

	// MatchedTopics are the shared topics behind TopicBonus.
	MatchedTopics []string

	// FinalScore is the weighted, boosted, clamped combination.
	FinalScore float64
}

// Searcher scores and ranks candidates pulled from the storage collaborator.
type Searcher struct {
	store     storage.VectorStore
	extractor *extract.Extractor
	now       func() time.Time
}

// NewSearcher creates a Searcher over the given store. A nil extractor
// gets a fresh one with the default cache size.
func NewSearcher(store storage.VectorStore, extractor *extract.Extractor) *Searcher {
	if extractor == nil {
		extractor = extract.NewExtractor(0)
	}
	return &Searcher{store: store, extractor: extractor, now: time.Now}
}

// Search pulls an over-fetched candidate set from the store (2x the
// requested limit at a looser similarity floor) and re-scores each
// candidate. Store failures propagate; there is no silent empty result.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	opts.Normalize()

	storeOpts := storage.SearchOptions{
		Limit:            opts.Limit * 2,
		MinScore:         opts.MinScore / 2,
		MinImportance:    opts.MinImportance,
		Topics:           opts.Topics,
		Tags:             opts.Tags,
		IncludeSummaries: opts.IncludeSummaries,
	}
	if len(opts.SourceTypes) == 1 {
		storeOpts.SourceType = opts.SourceTypes[0]
	}

	candidates, err := s.store.Search(ctx, query, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("retrieval: store search failed: %w", err)
	}

	queryTopics := s.extractor.Topics(query)
	now := s.now()

	var results []Result
	for _, cand := range candidates {
		r := s.score(cand, queryTopics, now, opts)
		if r.FinalScore < opts.MinScore {
			continue
		}
		if !sourceTypeAllowed(cand.Document.Metadata.SourceType, opts.SourceTypes) {
			continue
		}
		results = append(results, r)
	}

	sortResults(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// SearchWithContext is the context-aware variant: conversation topics are
// appended to the query text, and when sessionID is non-empty results from
// the same session get a 1.2x final-score multiplier before re-sorting.
func (s *Searcher) SearchWithContext(ctx context.Context, query string, conversationTopics []string, sessionID string, opts Options) ([]Result, error) {
	enriched := query
	if len(conversationTopics) > 0 {
		enriched = query + " " + strings.Join(conversationTopics, " ")
	}

	results, err := s.Search(ctx, enriched, opts)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		for i := range results {
			if results[i].Document.Metadata.SessionID == sessionID {
				results[i].FinalScore = clamp01(results[i].FinalScore * sameSessionMultiplier)
			}
		}
		sortResults(results)
	}
	return results, nil
}

// score computes the full breakdown for one candidate.
func (s *Searcher) score(cand storage.ScoredDocument, queryTopics []string, now time.Time, opts Options) Result {
	doc := cand.Document

	r := Result{
		Document:        doc,
		SemanticScore:   cand.Score,
		ImportanceScore: doc.Metadata.Importance,
		RecencyScore:    recencyScore(doc.Metadata.CreatedAt, now),
	}

	r.MatchedTopics = extract.MatchedTopics(doc.Metadata.Topics, queryTopics)
	r.TopicBonus = topicBonusPerMatch * float64(len(r.MatchedTopics))

	score := r.SemanticScore*opts.SemanticWeight +
		r.ImportanceScore*opts.ImportanceWeight +
		r.RecencyScore*opts.RecencyWeight +
		r.TopicBonus

	if opts.BoostByImportance && r.ImportanceScore > importanceBoostFloor {
		score *= importanceBoostMultiplier
	}
	if opts.BoostByRecency && r.RecencyScore > recencyBoostFloor {
		score *= recencyBoostMultiplier
	}

	r.FinalScore = clamp01(score)
	return r
}

// recencyScore decays linearly from 1.0 at age zero to 0.0 at one week.
func recencyScore(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	score := 1.0 - ageHours/recencyWindowHours
	if score < 0 {
		return 0
	}
	return score
}

func sourceTypeAllowed(st types.SourceType, allowed []types.SourceType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if st == a {
			return true
		}
	}
	return false
}

// sortResults orders by final score descending with document ID as the
// deterministic tie-break.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Document.ID < results[j].Document.ID
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
