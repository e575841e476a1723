// Package memory provides the in-memory verification store used by tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Store keeps records in a mutex-guarded map. Records are copied on the way in
// and out so callers can never mutate shared state behind the lock.
type Store struct {
	mu      sync.RWMutex
	records map[id.VerificationID]*models.VerificationRecord
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[id.VerificationID]*models.VerificationRecord)}
}

func (s *Store) Create(_ context.Context, record *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("verification record %s already exists: %w", record.ID, sentinel.ErrConflict)
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *Store) Get(_ context.Context, recordID id.VerificationID) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("verification record %s: %w", recordID, sentinel.ErrNotFound)
	}
	return clone(record), nil
}

func (s *Store) GetByUser(_ context.Context, userID id.UserID) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.VerificationRecord
	for _, record := range s.records {
		if record.UserID != userID {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("verification record for user %s: %w", userID, sentinel.ErrNotFound)
	}
	return clone(latest), nil
}

func (s *Store) Update(_ context.Context, record *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return fmt.Errorf("verification record %s: %w", record.ID, sentinel.ErrNotFound)
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *Store) Claim(_ context.Context, recordID id.VerificationID, from, to models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("verification record %s: %w", recordID, sentinel.ErrNotFound)
	}
	if record.Status() != from {
		return fmt.Errorf("claim %s: status is %s, wanted %s: %w",
			recordID, record.Status(), from, sentinel.ErrConflict)
	}
	if err := record.Transition(to); err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	return nil
}

func (s *Store) FindByCheckNumber(_ context.Context, number string) ([]*models.VerificationRecord, error) {
	needle := strings.ToUpper(strings.TrimSpace(number))
	if needle == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationRecord
	for _, record := range s.records {
		if record.Status().IsTerminal() {
			continue
		}
		if strings.ToUpper(record.SubmittedWWCCNumber) == needle ||
			strings.ToUpper(record.ExtractedWWCCNumber) == needle {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func (s *Store) FindBySubmittedSurname(_ context.Context, surname string) ([]*models.VerificationRecord, error) {
	needle := strings.ToLower(strings.TrimSpace(surname))
	if needle == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationRecord
	for _, record := range s.records {
		if record.Status().IsTerminal() {
			continue
		}
		if strings.ToLower(strings.TrimSpace(record.SubmittedSurname)) == needle {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func (s *Store) FindExpiredClearances(_ context.Context, now time.Time) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationRecord
	for _, record := range s.records {
		if record.Status() != models.StatusFullyVerified {
			continue
		}
		if record.WWCCExpiry != nil && record.WWCCExpiry.Before(now) {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func clone(record *models.VerificationRecord) *models.VerificationRecord {
	copied := *record
	copied.IdentityIssues = append([]string(nil), record.IdentityIssues...)
	copied.WWCCIssues = append([]string(nil), record.WWCCIssues...)
	return &copied
}
