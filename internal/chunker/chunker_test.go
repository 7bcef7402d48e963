package chunker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func messagesOf(contents ...string) []types.Message {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := make([]types.Message, len(contents))
	for i, content := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = types.Message{Role: role, Content: content, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return msgs
}

// The chunks must partition the input: contiguous, non-overlapping, and
// covering the whole index range.
func assertPartition(t *testing.T, chunks []types.SemanticChunk, total int) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartIndex)
	assert.Equal(t, total-1, chunks[len(chunks)-1].EndIndex)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, chunk.StartIndex, chunk.EndIndex)
		assert.Equal(t, chunk.EndIndex-chunk.StartIndex+1, chunk.TurnCount)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndIndex+1, chunk.StartIndex, "chunk %d is not contiguous", i)
		}
	}
}

func TestChunkConversationPartition(t *testing.T) {
	c := New(DefaultConfig(), nil)

	tests := []struct {
		name     string
		contents []string
	}{
		{"single message", []string{"hello"}},
		{"same topic run", []string{
			"the project deadline moved",
			"the meeting with the client went fine",
			"my boss wants the project report",
			"another office meeting tomorrow",
		}},
		{"topic change", []string{
			"the project deadline is friday",
			"the meeting with my boss went long",
			"we booked the flight and the hotel for the vacation",
			"the airport transfer is at noon",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := messagesOf(tt.contents...)
			chunks := c.ChunkConversation(msgs)
			assertPartition(t, chunks, len(msgs))
		})
	}
}

func TestChunkConversationEmpty(t *testing.T) {
	c := New(DefaultConfig(), nil)
	assert.Empty(t, c.ChunkConversation(nil))
}

func TestChunkConversationMaxTurns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTurnsPerChunk = 3
	c := New(cfg, nil)

	contents := make([]string, 7)
	for i := range contents {
		contents[i] = fmt.Sprintf("work meeting number %d at the office", i)
	}
	chunks := c.ChunkConversation(messagesOf(contents...))

	assertPartition(t, chunks, 7)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TurnCount, 3)
	}
}

func TestChunkSplitsOnTopicChange(t *testing.T) {
	c := New(DefaultConfig(), nil)
	msgs := messagesOf(
		"the project deadline is friday",
		"my boss scheduled another meeting",
		"we booked a flight and a hotel for the trip",
		"the vacation starts at the airport on sunday",
	)
	chunks := c.ChunkConversation(msgs)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Topics, "work")
	assert.Contains(t, chunks[1].Topics, "travel")
}

func TestChunkImportanceIsMaxOfMembers(t *testing.T) {
	c := New(DefaultConfig(), nil)
	msgs := messagesOf(
		"work stuff at the office",
		"remember this critical work deadline, it is urgent and important",
	)
	chunks := c.ChunkConversation(msgs)
	require.Len(t, chunks, 1)
	assert.Greater(t, chunks[0].Importance, 0.5)
	assert.LessOrEqual(t, chunks[0].Importance, 1.0)
}

func TestMergeChunksIdempotent(t *testing.T) {
	c := New(DefaultConfig(), nil)
	msgs := messagesOf(
		"the project deadline is friday",
		"my boss scheduled another meeting",
		"we booked a flight and a hotel for the trip",
		"the vacation starts at the airport on sunday",
		"the work project needs a status report",
		"the client meeting closed the project",
	)
	chunks := c.ChunkConversation(msgs)

	once := c.MergeChunks(chunks)
	twice := c.MergeChunks(once)
	assert.Equal(t, once, twice)
}

func TestMergeChunksFoldsOverlappingNeighbors(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	a := types.SemanticChunk{ID: "a", Content: "one", Topics: []string{"work", "schedule"}, Importance: 0.4, TurnCount: 2, StartIndex: 0, EndIndex: 1, Timestamp: time.Now()}
	b := types.SemanticChunk{ID: "b", Content: "two", Topics: []string{"work", "schedule"}, Importance: 0.7, TurnCount: 2, StartIndex: 2, EndIndex: 3, Timestamp: time.Now().Add(time.Minute)}

	merged := c.MergeChunks([]types.SemanticChunk{a, b})
	require.Len(t, merged, 1)
	assert.Equal(t, "a", merged[0].ID, "merged chunk keeps the earlier ID")
	assert.Equal(t, 0.7, merged[0].Importance)
	assert.Equal(t, 4, merged[0].TurnCount)
	assert.Equal(t, 3, merged[0].EndIndex)
}

func TestMergeChunksRespectsMaxTurns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTurnsPerChunk = 3
	c := New(cfg, nil)

	a := types.SemanticChunk{ID: "a", Topics: []string{"work"}, TurnCount: 2, StartIndex: 0, EndIndex: 1}
	b := types.SemanticChunk{ID: "b", Topics: []string{"work"}, TurnCount: 2, StartIndex: 2, EndIndex: 3}

	merged := c.MergeChunks([]types.SemanticChunk{a, b})
	assert.Len(t, merged, 2, "combined size would exceed the max turn bound")
}
