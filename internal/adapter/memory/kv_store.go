package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/pscheid92/unranked/internal/domain"
)

// KVStore keeps values in process memory. State is lost on restart.
type KVStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ domain.KVStore = (*KVStore)(nil)

func NewKVStore() *KVStore {
	return &KVStore{values: make(map[string][]byte)}
}

func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
	}
	return slices.Clone(v), nil
}

func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = slices.Clone(value)
	return nil
}
