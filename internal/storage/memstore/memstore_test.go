package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

func newDoc(id, content string, importance float64) *types.MemoryDocument {
	return &types.MemoryDocument{
		ID:      id,
		Content: content,
		Metadata: types.Metadata{
			SourceType: types.SourceFact,
			Importance: importance,
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	doc := newDoc("a", "the user likes tea", 0.7)
	doc.Metadata.Topics = []string{"food"}
	require.NoError(t, s.Put(context.Background(), doc))

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "the user likes tea", got.Content)
	assert.Equal(t, []string{"food"}, got.Metadata.Topics)

	// The store hands out clones; mutating a result must not leak back.
	got.Metadata.Topics[0] = "mangled"
	again, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"food"}, again.Metadata.Topics)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutRejectsInvalid(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Put(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.Put(context.Background(), &types.MemoryDocument{Content: "no id"}), storage.ErrInvalidInput)
}

func TestSearchTokenOverlap(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), newDoc("a", "dentist appointment on friday", 0.5)))
	require.NoError(t, s.Put(context.Background(), newDoc("b", "favorite tea is green", 0.5)))

	results, err := s.Search(context.Background(), "dentist friday", storage.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.Equal(t, 1.0, results[0].Score, "every query token appears in the content")
}

func TestSearchFilters(t *testing.T) {
	s := New()
	fact := newDoc("fact", "user lives in Berlin", 0.9)
	fact.Metadata.Topics = []string{"home"}
	task := newDoc("task", "user must renew visa", 0.9)
	task.Metadata.SourceType = types.SourceTask
	weak := newDoc("weak", "user mentioned weather", 0.1)
	summary := newDoc("sum", "summary of user facts", 0.9)
	summary.Metadata.IsSummary = true
	for _, doc := range []*types.MemoryDocument{fact, task, weak, summary} {
		require.NoError(t, s.Put(context.Background(), doc))
	}

	results, err := s.Search(context.Background(), "user", storage.SearchOptions{
		SourceType:    types.SourceFact,
		MinImportance: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fact", results[0].Document.ID)

	results, err = s.Search(context.Background(), "user", storage.SearchOptions{Topics: []string{"home"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fact", results[0].Document.ID)

	results, err = s.Search(context.Background(), "user", storage.SearchOptions{IncludeSummaries: true})
	require.NoError(t, err)
	assert.Len(t, results, 4, "summaries only appear when asked for")
}

func TestSearchLimitAndTieBreak(t *testing.T) {
	s := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(context.Background(), newDoc(id, "identical content", 0.5)))
	}

	results, err := s.Search(context.Background(), "identical", storage.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.Equal(t, "b", results[1].Document.ID)
}

func TestSearchByVectorCosine(t *testing.T) {
	s := New()
	near := newDoc("near", "aligned", 0.5)
	near.Vector = []float32{1, 0}
	far := newDoc("far", "opposed", 0.5)
	far.Vector = []float32{-1, 0}
	unembedded := newDoc("none", "no vector", 0.5)
	for _, doc := range []*types.MemoryDocument{near, far, unembedded} {
		require.NoError(t, s.Put(context.Background(), doc))
	}

	results, err := s.SearchByVector(context.Background(), []float32{1, 0}, storage.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2, "dimension mismatches are skipped")
	assert.Equal(t, "near", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9, "opposite vector maps to zero")
}

func TestSearchByVectorRejectsEmpty(t *testing.T) {
	s := New()
	_, err := s.SearchByVector(context.Background(), nil, storage.SearchOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestReplaceAllSwapsContents(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), newDoc("old", "stale", 0.5)))

	require.NoError(t, s.ReplaceAll(context.Background(), []*types.MemoryDocument{
		newDoc("new-1", "fresh", 0.5),
		newDoc("new-2", "fresher", 0.5),
	}))

	_, err := s.Get(context.Background(), "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := s.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new-1", all[0].ID)
	assert.Equal(t, "new-2", all[1].ID)
}

func TestUpsertManyOverwritesByID(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), newDoc("a", "before", 0.5)))
	require.NoError(t, s.UpsertMany(context.Background(), []*types.MemoryDocument{
		newDoc("a", "after", 0.5),
		newDoc("b", "added", 0.5),
	}))

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Content)

	stats, err := s.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors)
}

func TestGetStatsAverageImportance(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), newDoc("a", "x", 0.2)))
	require.NoError(t, s.Put(context.Background(), newDoc("b", "y", 0.8)))

	stats, err := s.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors)
	assert.InDelta(t, 0.5, stats.AverageImportance, 1e-9)
}

func TestClear(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), newDoc("a", "x", 0.5)))
	require.NoError(t, s.Clear(context.Background()))

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConversationStoreRoundTrip(t *testing.T) {
	s := NewConversationStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	conv := &types.Conversation{
		ID:        "c1",
		CreatedAt: now,
		Messages:  []types.Message{{Role: "user", Content: "hello", Timestamp: now}},
	}
	require.NoError(t, s.Upsert(context.Background(), conv))

	got, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	// Clones again: callers cannot reach the stored copy.
	got.Messages[0].Content = "mangled"
	again, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Messages[0].Content)

	_, err = s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.ReplaceAll(context.Background(), nil))
	list, err = s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
