// Package engine orchestrates the consolidation and retrieval flows:
// chunking a conversation into memory documents, reducing each to its
// tier-appropriate detail level, and assembling bounded context blocks
// for a language model.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/assembler"
	"github.com/scrypster/recall/internal/chunker"
	"github.com/scrypster/recall/internal/retrieval"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/summarizer"
	"github.com/scrypster/recall/pkg/types"
)

// DocumentStore is the storage surface the engine writes through.
type DocumentStore interface {
	storage.VectorStore
	storage.BulkWriter
}

// Engine wires the chunker, summarizer, retrieval scorer and assembler
// around a document store. All collaborators are injected.
type Engine struct {
	chunker  *chunker.Chunker
	summ     *summarizer.Summarizer
	searcher *retrieval.Searcher
	docs     DocumentStore
	convs    storage.ConversationStore
	now      func() time.Time
}

// New builds an Engine. convs may be nil when raw conversations are not
// retained.
func New(ch *chunker.Chunker, summ *summarizer.Summarizer, searcher *retrieval.Searcher, docs DocumentStore, convs storage.ConversationStore) (*Engine, error) {
	if ch == nil || summ == nil || searcher == nil || docs == nil {
		return nil, fmt.Errorf("engine: chunker, summarizer, searcher and document store are required")
	}
	return &Engine{
		chunker:  ch,
		summ:     summ,
		searcher: searcher,
		docs:     docs,
		convs:    convs,
		now:      time.Now,
	}, nil
}

// ConsolidationResult reports what ProcessConversation stored.
type ConsolidationResult struct {
	Documents []*types.MemoryDocument
	Chunks    int
	Merged    int
}

// ProcessConversation chunks a conversation, reduces each chunk to its
// importance tier's detail level and stores the resulting documents. The
// raw conversation is retained when a conversation store is configured.
func (e *Engine) ProcessConversation(ctx context.Context, conv *types.Conversation, sessionID string) (*ConsolidationResult, error) {
	if conv == nil || len(conv.Messages) == 0 {
		return &ConsolidationResult{}, nil
	}

	chunks := e.chunker.ChunkConversation(conv.Messages)
	merged := e.chunker.MergeChunks(chunks)

	now := e.now()
	docs := make([]*types.MemoryDocument, 0, len(merged))
	for _, chunk := range merged {
		doc := &types.MemoryDocument{
			ID:      uuid.NewString(),
			Content: chunk.Content,
			Metadata: types.Metadata{
				SourceType: types.SourceConversation,
				Importance: chunk.Importance,
				Topics:     chunk.Topics,
				SessionID:  sessionID,
				CreatedAt:  chunk.Timestamp,
				UpdatedAt:  now,
			},
		}
		if doc.Metadata.CreatedAt.IsZero() {
			doc.Metadata.CreatedAt = now
		}
		doc.Content = e.summ.SummarizeDocument(doc)
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		if err := e.docs.UpsertMany(ctx, docs); err != nil {
			return nil, fmt.Errorf("engine: store documents: %w", err)
		}
	}
	if e.convs != nil {
		if err := e.convs.Upsert(ctx, conv); err != nil {
			return nil, fmt.Errorf("engine: store conversation %s: %w", conv.ID, err)
		}
	}

	log.Printf("engine: consolidated conversation %s: %d chunks, %d after merge", conv.ID, len(chunks), len(merged))
	return &ConsolidationResult{Documents: docs, Chunks: len(chunks), Merged: len(merged)}, nil
}

// Consolidate groups already-stored documents into a single summary
// document, recording which documents it covers.
func (e *Engine) Consolidate(ctx context.Context, docs []*types.MemoryDocument) (*types.MemoryDocument, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("engine: nothing to consolidate")
	}

	result, err := e.summ.SummarizeGroup(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("engine: summarize group: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	now := e.now()
	summary := &types.MemoryDocument{
		ID:      uuid.NewString(),
		Content: result.Summary,
		Metadata: types.Metadata{
			SourceType:    types.SourceContext,
			Importance:    result.Importance,
			Topics:        result.Topics,
			IsSummary:     true,
			SummarizedIDs: ids,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	if err := e.docs.UpsertMany(ctx, []*types.MemoryDocument{summary}); err != nil {
		return nil, fmt.Errorf("engine: store summary: %w", err)
	}
	return summary, nil
}

// Search runs the retrieval scorer over the document store.
func (e *Engine) Search(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error) {
	return e.searcher.Search(ctx, query, opts)
}

// SearchWithContext runs the scorer with conversation topics blended into
// the query and same-session boosting applied.
func (e *Engine) SearchWithContext(ctx context.Context, query string, topics []string, sessionID string, opts retrieval.Options) ([]retrieval.Result, error) {
	return e.searcher.SearchWithContext(ctx, query, topics, sessionID, opts)
}

// BuildContext searches and assembles a bounded context block in one call.
func (e *Engine) BuildContext(ctx context.Context, query string, searchOpts retrieval.Options, asmOpts assembler.Options) (*assembler.AssembledContext, error) {
	results, err := e.searcher.Search(ctx, query, searchOpts)
	if err != nil {
		return nil, err
	}
	return assembler.AssembleFromResults(results, asmOpts), nil
}

// BuildContextForSession is BuildContext with conversation topics and
// same-session boosting applied.
func (e *Engine) BuildContextForSession(ctx context.Context, query string, topics []string, sessionID string, searchOpts retrieval.Options, asmOpts assembler.Options) (*assembler.AssembledContext, error) {
	results, err := e.searcher.SearchWithContext(ctx, query, topics, sessionID, searchOpts)
	if err != nil {
		return nil, err
	}
	return assembler.AssembleFromResults(results, asmOpts), nil
}
