package infra

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// MemoryState implements domain.SharedState in memory.
// Used by tests and when both roles run inside one process.
type MemoryState struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryState creates an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{values: make(map[string][]byte)}
}

func (s *MemoryState) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *MemoryState) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = bytes.Clone(value)
	return nil
}

func (s *MemoryState) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryState) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ensure MemoryState implements domain.SharedState.
var _ domain.SharedState = (*MemoryState)(nil)
