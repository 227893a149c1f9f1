package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// TrustStore is the in-memory trust graph. Insertion order is preserved so
// exports and merges are reproducible line for line.
type TrustStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.TrustEntry
	order   []string
	version atomic.Uint64
}

func NewTrustStore() *TrustStore {
	return &TrustStore{entries: make(map[string]*domain.TrustEntry)}
}

// Version increases on every mutation; the snapshot worker uses it to skip
// writes when nothing changed.
func (s *TrustStore) Version() uint64 {
	return s.version.Load()
}

func (s *TrustStore) Put(ctx context.Context, e *domain.TrustEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	if _, exists := s.entries[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.entries[cp.ID] = &cp
	s.version.Add(1)
	return nil
}

func (s *TrustStore) GetByID(ctx context.Context, id string) (*domain.TrustEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *TrustStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version.Add(1)
	return nil
}

func (s *TrustStore) List(ctx context.Context) ([]domain.TrustEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TrustEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out, nil
}

func (s *TrustStore) Replace(ctx context.Context, entries []domain.TrustEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*domain.TrustEntry, len(entries))
	s.order = make([]string, 0, len(entries))
	for i := range entries {
		cp := entries[i]
		if _, dup := s.entries[cp.ID]; dup {
			continue
		}
		s.entries[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	s.version.Add(1)
	return nil
}
