package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/assembler"
	"github.com/scrypster/recall/internal/chunker"
	"github.com/scrypster/recall/internal/retrieval"
	"github.com/scrypster/recall/internal/storage/memstore"
	"github.com/scrypster/recall/internal/summarizer"
	"github.com/scrypster/recall/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *memstore.Store, *memstore.ConversationStore) {
	t.Helper()
	docs := memstore.New()
	convs := memstore.NewConversationStore()

	ch := chunker.New(chunker.DefaultConfig(), nil)
	summ := summarizer.New(summarizer.DefaultConfig(), nil)
	searcher := retrieval.NewSearcher(docs, nil)

	e, err := New(ch, summ, searcher, docs, convs)
	require.NoError(t, err)
	return e, docs, convs
}

func conversation(id string, contents ...string) *types.Conversation {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := &types.Conversation{ID: id, CreatedAt: base}
	for i, content := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		conv.Messages = append(conv.Messages, types.Message{
			Role:      role,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestProcessConversationStoresDocuments(t *testing.T) {
	e, docs, convs := newTestEngine(t)
	conv := conversation("conv-1",
		"I have a meeting with the doctor about my appointment on friday",
		"Noted, your doctor appointment is friday",
	)

	result, err := e.ProcessConversation(context.Background(), conv, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, result.Documents)
	assert.Equal(t, result.Merged, len(result.Documents))

	all, err := docs.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, len(result.Documents))
	for _, doc := range all {
		assert.Equal(t, types.SourceConversation, doc.Metadata.SourceType)
		assert.Equal(t, "session-1", doc.Metadata.SessionID)
		assert.NotEmpty(t, doc.Content)
		assert.GreaterOrEqual(t, doc.Metadata.Importance, 0.0)
		assert.LessOrEqual(t, doc.Metadata.Importance, 1.0)
	}

	stored, err := convs.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestProcessConversationEmptyIsNoOp(t *testing.T) {
	e, docs, _ := newTestEngine(t)

	result, err := e.ProcessConversation(context.Background(), &types.Conversation{ID: "empty"}, "s1")
	require.NoError(t, err)
	assert.Empty(t, result.Documents)

	all, err := docs.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestProcessConversationNilConversationStore(t *testing.T) {
	docs := memstore.New()
	e, err := New(
		chunker.New(chunker.DefaultConfig(), nil),
		summarizer.New(summarizer.DefaultConfig(), nil),
		retrieval.NewSearcher(docs, nil),
		docs, nil,
	)
	require.NoError(t, err)

	result, err := e.ProcessConversation(context.Background(), conversation("conv-1", "remember this", "noted"), "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Documents)
}

func TestConsolidateStoresSummaryDocument(t *testing.T) {
	e, docs, _ := newTestEngine(t)
	group := []*types.MemoryDocument{
		{ID: "a", Content: "User goes to the gym on mondays.", Metadata: types.Metadata{SourceType: types.SourceFact, Importance: 0.6}},
		{ID: "b", Content: "User prefers morning workouts.", Metadata: types.Metadata{SourceType: types.SourceFact, Importance: 0.4}},
	}

	summary, err := e.Consolidate(context.Background(), group)
	require.NoError(t, err)
	assert.True(t, summary.Metadata.IsSummary)
	assert.ElementsMatch(t, []string{"a", "b"}, summary.Metadata.SummarizedIDs)
	assert.NotEmpty(t, summary.Content)

	got, err := docs.Get(context.Background(), summary.ID)
	require.NoError(t, err)
	assert.True(t, got.Metadata.IsSummary)
}

func TestConsolidateEmptyGroup(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Consolidate(context.Background(), nil)
	assert.Error(t, err)
}

func TestSearchFindsStoredDocuments(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := conversation("conv-1",
		"My dentist appointment is on friday at the clinic",
		"I noted the dentist appointment for friday",
	)
	_, err := e.ProcessConversation(context.Background(), conv, "s1")
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "dentist appointment", retrieval.DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestBuildContextPacksResults(t *testing.T) {
	e, _, _ := newTestEngine(t)
	conv := conversation("conv-1",
		"My dentist appointment is on friday at the clinic",
		"I noted the dentist appointment for friday",
	)
	_, err := e.ProcessConversation(context.Background(), conv, "s1")
	require.NoError(t, err)

	built, err := e.BuildContext(context.Background(), "dentist appointment", retrieval.DefaultOptions(), assembler.DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, built.Content)
	assert.Greater(t, built.DocumentCount, 0)
	assert.Equal(t, (len(built.Content)+3)/4, built.EstimatedTokens)
}
