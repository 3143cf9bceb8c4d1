package governor

import (
	"context"
	"sync"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// MemoryStore keeps lockout state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*models.LockoutState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*models.LockoutState)}
}

func (s *MemoryStore) LoadKey(_ context.Context, key string) (*models.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[key]; ok {
		return state.Clone(), nil
	}
	return &models.LockoutState{}, nil
}

func (s *MemoryStore) SaveKey(_ context.Context, key string, state *models.LockoutState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.LockedUntil == nil && len(state.Window) == 0 {
		delete(s.states, key)
		return nil
	}
	s.states[key] = state.Clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of keys with state.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
