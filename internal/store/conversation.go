package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// ConversationStore is the in-memory conversation forest, flat nodes with
// parent links. Insertion order is preserved for reproducible exports.
type ConversationStore struct {
	mu      sync.RWMutex
	nodes   map[string]*domain.Conversation
	order   []string
	version atomic.Uint64
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{nodes: make(map[string]*domain.Conversation)}
}

func (s *ConversationStore) Version() uint64 {
	return s.version.Load()
}

func copyNode(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Children = nil
	cp.Messages = make([]domain.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

func (s *ConversationStore) Put(ctx context.Context, c *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyNode(c)
	if _, exists := s.nodes[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.nodes[cp.ID] = cp
	s.version.Add(1)
	return nil
}

func (s *ConversationStore) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(c), nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, m domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.nodes[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Messages = append(c.Messages, m)
	s.version.Add(1)
	return nil
}

func (s *ConversationStore) List(ctx context.Context) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *copyNode(s.nodes[id]))
	}
	return out, nil
}

func (s *ConversationStore) Replace(ctx context.Context, nodes []domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*domain.Conversation, len(nodes))
	s.order = make([]string, 0, len(nodes))
	for i := range nodes {
		cp := copyNode(&nodes[i])
		if _, dup := s.nodes[cp.ID]; dup {
			continue
		}
		s.nodes[cp.ID] = cp
		s.order = append(s.order, cp.ID)
	}
	s.version.Add(1)
	return nil
}
