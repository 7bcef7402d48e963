package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ConversationStore is an in-memory storage.ConversationStore.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*types.Conversation
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// NewConversationStore creates an empty ConversationStore.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[string]*types.Conversation)}
}

// Get retrieves a conversation by ID.
func (s *ConversationStore) Get(ctx context.Context, id string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneConv(conv), nil
}

// List returns every stored conversation sorted by ID.
func (s *ConversationStore) List(ctx context.Context) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, cloneConv(conv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert inserts or replaces a conversation by ID.
func (s *ConversationStore) Upsert(ctx context.Context, conv *types.Conversation) error {
	if conv == nil || conv.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = cloneConv(conv)
	return nil
}

// ReplaceAll clears the store and installs convs as the new content.
func (s *ConversationStore) ReplaceAll(ctx context.Context, convs []*types.Conversation) error {
	next := make(map[string]*types.Conversation, len(convs))
	for _, conv := range convs {
		if conv == nil || conv.ID == "" {
			return storage.ErrInvalidInput
		}
		next[conv.ID] = cloneConv(conv)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = next
	return nil
}

// Clear removes all conversations.
func (s *ConversationStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]*types.Conversation)
	return nil
}

func cloneConv(conv *types.Conversation) *types.Conversation {
	out := *conv
	out.Messages = append([]types.Message(nil), conv.Messages...)
	return &out
}
