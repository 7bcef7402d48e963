// Package storage defines the narrow interfaces behind which the vector
// store and conversation store collaborators live.
//
// The interfaces are small and composable: retrieval only needs
// VectorStore, while the backup pipeline additionally requires BulkWriter,
// an explicitly-granted bulk mutation surface, instead of reaching into
// a store's private state.
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ScoredDocument pairs a document with its raw similarity score as
// returned by the store. Score is in [0.0, 1.0].
type ScoredDocument struct {
	Document *types.MemoryDocument
	Score    float64
}

// SearchOptions filters store-level search.
type SearchOptions struct {
	// Limit is the maximum number of results to return.
	Limit int

	// MinScore is the minimum raw similarity score (0.0 to 1.0).
	MinScore float64

	// SourceType restricts results to one source type when set.
	SourceType types.SourceType

	// MinImportance restricts results to documents at or above this importance.
	MinImportance float64

	// Topics restricts results to documents carrying at least one of these topics.
	Topics []string

	// Tags restricts results to documents carrying at least one of these tags.
	Tags []string

	// IncludeSummaries includes summary documents in results (default true
	// at the retrieval layer; the zero value here means exclude).
	IncludeSummaries bool
}

// Stats describes the store contents.
type Stats struct {
	TotalVectors      int
	AverageImportance float64
}

// VectorStore is the similarity-search collaborator. Any failure must
// surface as an explicit error; a silently empty result on failure would
// hide retrieval outages from the caller.
type VectorStore interface {
	// Search ranks documents against a text query.
	Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredDocument, error)

	// SearchByVector ranks documents against an embedding vector.
	SearchByVector(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredDocument, error)

	// Get retrieves a document by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*types.MemoryDocument, error)

	// Clear removes all documents.
	Clear(ctx context.Context) error

	// GetStats reports store contents.
	GetStats(ctx context.Context) (*Stats, error)
}

// BulkWriter is the bulk-mutation surface granted to the backup import
// pipeline. Normal write paths do not use it.
type BulkWriter interface {
	// UpsertMany inserts or replaces documents by ID.
	UpsertMany(ctx context.Context, docs []*types.MemoryDocument) error

	// ReplaceAll clears the store and installs docs as the new content.
	ReplaceAll(ctx context.Context, docs []*types.MemoryDocument) error
}

// Lister enumerates every stored document. Export is the only consumer;
// search paths never scan the full store.
type Lister interface {
	All(ctx context.Context) ([]*types.MemoryDocument, error)
}

// ConversationStore holds conversation histories.
type ConversationStore interface {
	// Get retrieves a conversation by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*types.Conversation, error)

	// List returns every stored conversation.
	List(ctx context.Context) ([]*types.Conversation, error)

	// Upsert inserts or replaces a conversation by ID.
	Upsert(ctx context.Context, conv *types.Conversation) error

	// ReplaceAll clears the store and installs convs as the new content.
	ReplaceAll(ctx context.Context, convs []*types.Conversation) error

	// Clear removes all conversations.
	Clear(ctx context.Context) error
}
