package auth

import (
	"context"
	"sync"

	"github.com/Guizzs26/shop-sync/internal/models"
)

// MemoryTokenStore keeps tokens for the life of the process
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]models.Token
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]models.Token)}
}

func (s *MemoryTokenStore) LoadToken(_ context.Context, integration string) (models.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[integration]
	return t, ok, nil
}

func (s *MemoryTokenStore) SaveToken(_ context.Context, t models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Integration] = t
	return nil
}
