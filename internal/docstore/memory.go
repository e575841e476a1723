package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vouch/pkg/platform/sentinel"
)

// InMemoryStorage holds documents in memory for tests/dev. Signed URLs are
// synthetic but stable so assertions can match on them.
type InMemoryStorage struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewInMemory constructs an empty in-memory document store.
func NewInMemory() *InMemoryStorage {
	return &InMemoryStorage{docs: make(map[string][]byte)}
}

// Put stores document bytes under path.
func (s *InMemoryStorage) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = append([]byte(nil), data...)
}

func (s *InMemoryStorage) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[path]; !ok {
		return "", fmt.Errorf("document %s: %w", path, sentinel.ErrNotFound)
	}
	return fmt.Sprintf("memory://%s?ttl=%d", path, int(ttl.Seconds())), nil
}

func (s *InMemoryStorage) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", path, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
