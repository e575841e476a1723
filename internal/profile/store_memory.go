package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// InMemoryStore keeps projections in memory for tests/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.UserID]Projection
}

// NewInMemoryStore constructs an empty in-memory projection store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[id.UserID]Projection)}
}

func (s *InMemoryStore) Apply(_ context.Context, projection Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[projection.UserID]; ok && projection.Surname == "" {
		// Upserts from the verification pipeline may not carry the surname.
		projection.Surname = existing.Surname
	}
	s.profiles[projection.UserID] = projection
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, userID id.UserID) (*Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projection, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile for user %s: %w", userID, sentinel.ErrNotFound)
	}
	return &projection, nil
}

func (s *InMemoryStore) FindUserIDsBySurname(_ context.Context, surname string) ([]id.UserID, error) {
	needle := strings.ToLower(strings.TrimSpace(surname))
	if needle == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.UserID
	for userID, projection := range s.profiles {
		if strings.ToLower(strings.TrimSpace(projection.Surname)) == needle {
			out = append(out, userID)
		}
	}
	return out, nil
}
