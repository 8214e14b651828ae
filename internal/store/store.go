package store

import (
	"context"
	"sync"

	"github.com/speakup/notification-engine/internal/domain"
)

// ViewerStateStore persists per-viewer notification state. Both operations
// are best-effort from the engine's point of view: a load failure is a cache
// miss and a save failure leaves the in-memory state authoritative.
type ViewerStateStore interface {
	Load(ctx context.Context, viewerKey string) (*domain.ViewerState, error)
	Save(ctx context.Context, viewerKey string, state *domain.ViewerState) error
}

// MemoryStore keeps viewer state in process memory. Used in tests and as the
// fallback when Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*domain.ViewerState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*domain.ViewerState)}
}

// Load returns a copy of the stored state, or nil when absent.
func (s *MemoryStore) Load(ctx context.Context, viewerKey string) (*domain.ViewerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[viewerKey]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Save stores a copy of the state.
func (s *MemoryStore) Save(ctx context.Context, viewerKey string, state *domain.ViewerState) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[viewerKey] = state.Clone()
	return nil
}
