package audit

import (
	"context"
	"sync"

	id "vouch/pkg/domain"
)

// InMemoryStore keeps audit events in process memory for tests and local runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.VerificationID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.VerificationID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.VerificationID] = append(s.events[event.VerificationID], event)
	return nil
}

func (s *InMemoryStore) ListByVerification(_ context.Context, verificationID id.VerificationID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[verificationID]...), nil
}
