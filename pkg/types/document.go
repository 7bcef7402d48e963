// Package types defines the shared data model for the Recall memory system.
//
// The types here are the atomic units exchanged between the consolidation
// pipeline, the retrieval scorer, the session context manager and the
// backup pipeline. They carry no behaviour beyond validation helpers.
package types

import "time"

// SourceType classifies where a memory document came from.
type SourceType string

const (
	SourceFact         SourceType = "fact"
	SourcePreference   SourceType = "preference"
	SourceTask         SourceType = "task"
	SourceContext      SourceType = "context"
	SourceConversation SourceType = "conversation"
	SourceOther        SourceType = "other"
)

// Valid reports whether s is one of the recognized source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceFact, SourcePreference, SourceTask, SourceContext, SourceConversation, SourceOther:
		return true
	}
	return false
}

// MemoryDocument is a single stored memory unit: content, an optional
// embedding vector, and scoring/organization metadata.
type MemoryDocument struct {
	ID       string    `json:"id"`
	Content  string    `json:"content"`
	Vector   []float32 `json:"vector,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// Metadata carries the scoring and organization fields of a document.
// Importance is always kept within [0.0, 1.0].
type Metadata struct {
	SourceType    SourceType `json:"source_type"`
	Importance    float64    `json:"importance"`
	AccessCount   int        `json:"access_count"`
	Topics        []string   `json:"topics,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	IsSummary     bool       `json:"is_summary"`
	SummarizedIDs []string   `json:"summarized_ids,omitempty"` // documents this summary conceptually replaces
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ClampImportance forces v into the [0.0, 1.0] range.
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize applies defaults and clamps out-of-range values in place.
func (d *MemoryDocument) Normalize(now time.Time) {
	if !d.Metadata.SourceType.Valid() {
		d.Metadata.SourceType = SourceOther
	}
	d.Metadata.Importance = ClampImportance(d.Metadata.Importance)
	if d.Metadata.CreatedAt.IsZero() {
		d.Metadata.CreatedAt = now
	}
	if d.Metadata.UpdatedAt.IsZero() {
		d.Metadata.UpdatedAt = d.Metadata.CreatedAt
	}
}

// HasTopic reports whether the document carries the given topic.
func (d *MemoryDocument) HasTopic(topic string) bool {
	for _, t := range d.Metadata.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// SemanticChunk is a contiguous, topic-coherent slice of a message
// sequence produced by the chunker. Chunks are transient: they are never
// persisted without being wrapped into a MemoryDocument first.
//
// StartIndex and EndIndex are inclusive positions into the source message
// slice; a valid chunk always has StartIndex <= EndIndex.
type SemanticChunk struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Topics     []string  `json:"topics,omitempty"`
	Importance float64   `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
	TurnCount  int       `json:"turn_count"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
}

// Message is a single turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered message history identified by ID.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
