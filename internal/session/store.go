// Package session maintains cross-session continuity state: topics,
// facts, preferences and pending items per session, relevance that decays
// over time, topic-based linking between sessions, and "welcome back"
// summaries.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/scrypster/recall/pkg/types"
)

// ErrNotFound indicates the requested session context does not exist.
var ErrNotFound = errors.New("session context not found")

// ContextStore persists session contexts. The manager owns all mutation;
// a store only loads and saves whole records.
type ContextStore interface {
	// List returns every stored context.
	List(ctx context.Context) ([]*types.SessionContext, error)

	// Put inserts or replaces a context by ID.
	Put(ctx context.Context, sc *types.SessionContext) error

	// Delete removes a context by ID. Deleting an absent ID is not an error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory ContextStore for tests and ephemeral use.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*types.SessionContext
}

var _ ContextStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]*types.SessionContext)}
}

// List returns every stored context sorted by ID.
func (s *MemoryStore) List(ctx context.Context) ([]*types.SessionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.SessionContext, 0, len(s.contexts))
	for _, sc := range s.contexts {
		clone := cloneContext(sc)
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces a context by ID.
func (s *MemoryStore) Put(ctx context.Context, sc *types.SessionContext) error {
	if sc == nil || sc.ID == "" {
		return errors.New("session: context requires an ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sc.ID] = cloneContext(sc)
	return nil
}

// Delete removes a context by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}

func cloneContext(sc *types.SessionContext) *types.SessionContext {
	out := *sc
	out.Topics = append([]string(nil), sc.Topics...)
	out.KeyFacts = append([]string(nil), sc.KeyFacts...)
	out.Preferences = append([]types.Preference(nil), sc.Preferences...)
	out.PendingItems = append([]types.PendingItem(nil), sc.PendingItems...)
	out.RelatedSessionIDs = append([]string(nil), sc.RelatedSessionIDs...)
	if sc.EndedAt != nil {
		t := *sc.EndedAt
		out.EndedAt = &t
	}
	return &out
}
