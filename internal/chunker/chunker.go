// Package chunker splits a linear message history into topic-coherent
// segments and can merge adjacent segments back together when their topics
// overlap strongly enough.
package chunker

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/pkg/types"
)

// Config controls chunk boundaries.
type Config struct {
	// MaxTurnsPerChunk is the hard upper bound on messages per chunk.
	MaxTurnsPerChunk int

	// MinTurnsPerChunk is the minimum size a chunk must reach before a
	// topic change is allowed to close it.
	MinTurnsPerChunk int

	// TopicChangeThreshold is the topic-overlap value below which two
	// consecutive messages are considered to have changed topic.
	TopicChangeThreshold float64

	// MergeThreshold is the topic-overlap value above which two adjacent
	// chunks are folded into one by MergeChunks.
	MergeThreshold float64

	// BaseImportance is the floor applied to chunk importance.
	BaseImportance float64
}

// DefaultConfig returns the standard chunking configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurnsPerChunk:     8,
		MinTurnsPerChunk:     2,
		TopicChangeThreshold: 0.3,
		MergeThreshold:       0.5,
		BaseImportance:       0.3,
	}
}

// Chunker produces semantic chunks from message sequences.
type Chunker struct {
	cfg       Config
	extractor *extract.Extractor
}

// New creates a Chunker. A nil extractor gets a fresh one with the default
// cache size.
func New(cfg Config, extractor *extract.Extractor) *Chunker {
	if cfg.MaxTurnsPerChunk < 1 {
		cfg.MaxTurnsPerChunk = DefaultConfig().MaxTurnsPerChunk
	}
	if cfg.MinTurnsPerChunk < 1 {
		cfg.MinTurnsPerChunk = 1
	}
	if extractor == nil {
		extractor = extract.NewExtractor(0)
	}
	return &Chunker{cfg: cfg, extractor: extractor}
}

// ChunkConversation walks messages once and groups them into chunks.
//
// A new chunk starts when the current chunk reaches MaxTurnsPerChunk, or
// when all of the following hold: the chunk has at least MinTurnsPerChunk
// messages, the topic overlap between the previous and current message
// falls below TopicChangeThreshold, and the current message has at least
// one detected topic.
//
// The returned chunks partition the input: boundaries are contiguous,
// non-overlapping, and their union covers the whole index range. Empty
// input yields an empty slice.
func (c *Chunker) ChunkConversation(messages []types.Message) []types.SemanticChunk {
	if len(messages) == 0 {
		return []types.SemanticChunk{}
	}

	var chunks []types.SemanticChunk
	start := 0

	for i := 1; i <= len(messages); i++ {
		turns := i - start
		if i == len(messages) {
			chunks = append(chunks, c.buildChunk(messages, start, i-1))
			break
		}

		if turns >= c.cfg.MaxTurnsPerChunk {
			chunks = append(chunks, c.buildChunk(messages, start, i-1))
			start = i
			continue
		}

		if turns >= c.cfg.MinTurnsPerChunk {
			prevTopics := c.extractor.Topics(messages[i-1].Content)
			curTopics := c.extractor.Topics(messages[i].Content)
			if len(curTopics) > 0 &&
				extract.TopicOverlap(prevTopics, curTopics) < c.cfg.TopicChangeThreshold {
				chunks = append(chunks, c.buildChunk(messages, start, i-1))
				start = i
			}
		}
	}

	return chunks
}

// buildChunk assembles the chunk covering messages[start..end] inclusive.
func (c *Chunker) buildChunk(messages []types.Message, start, end int) types.SemanticChunk {
	var sb strings.Builder
	topicSet := make(map[string]bool)
	var topics []string
	importance := c.cfg.BaseImportance

	for i := start; i <= end; i++ {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(messages[i].Content)

		for _, t := range c.extractor.Topics(messages[i].Content) {
			if !topicSet[t] {
				topicSet[t] = true
				topics = append(topics, t)
			}
		}
		if imp := c.extractor.Importance(messages[i].Content); imp > importance {
			importance = imp
		}
	}

	ts := messages[start].Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return types.SemanticChunk{
		ID:         uuid.NewString(),
		Content:    sb.String(),
		Topics:     topics,
		Importance: types.ClampImportance(importance),
		Timestamp:  ts,
		TurnCount:  end - start + 1,
		StartIndex: start,
		EndIndex:   end,
	}
}

// MergeChunks greedily folds adjacent chunks into one when their topic
// overlap exceeds MergeThreshold and the combined turn count stays within
// MaxTurnsPerChunk. The merged chunk keeps the earlier chunk's ID and
// timestamp; its importance is the max of the two. Applying MergeChunks
// again once no adjacent pair exceeds the threshold is a no-op.
func (c *Chunker) MergeChunks(chunks []types.SemanticChunk) []types.SemanticChunk {
	if len(chunks) < 2 {
		return chunks
	}

	merged := []types.SemanticChunk{chunks[0]}
	for _, next := range chunks[1:] {
		last := &merged[len(merged)-1]
		combined := last.TurnCount + next.TurnCount
		if combined <= c.cfg.MaxTurnsPerChunk &&
			extract.TopicOverlap(last.Topics, next.Topics) > c.cfg.MergeThreshold {
			last.Content = last.Content + "\n" + next.Content
			last.Topics = unionTopics(last.Topics, next.Topics)
			if next.Importance > last.Importance {
				last.Importance = next.Importance
			}
			last.TurnCount = combined
			last.EndIndex = next.EndIndex
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

func unionTopics(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
