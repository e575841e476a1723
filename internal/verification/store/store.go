// Package store persists verification records.
//
// Error contract, all implementations:
//   - ErrNotFound (wrapped) when the requested record does not exist
//   - ErrConflict (wrapped) when a conditional claim loses the race
//   - wrapped infrastructure errors otherwise
package store

import (
	"context"
	"time"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
)

// Store is the persistence port for verification records.
type Store interface {
	Create(ctx context.Context, record *models.VerificationRecord) error
	Get(ctx context.Context, recordID id.VerificationID) (*models.VerificationRecord, error)
	GetByUser(ctx context.Context, userID id.UserID) (*models.VerificationRecord, error)
	Update(ctx context.Context, record *models.VerificationRecord) error

	// Claim conditionally moves a record from into to with a single-row
	// compare-and-swap. Exactly one concurrent caller observes success; the
	// rest receive ErrConflict and must exit silently.
	Claim(ctx context.Context, recordID id.VerificationID, from, to models.Status) error

	// FindByCheckNumber matches non-terminal records whose submitted or
	// extracted check number equals number, case-insensitively.
	FindByCheckNumber(ctx context.Context, number string) ([]*models.VerificationRecord, error)

	// FindBySubmittedSurname matches non-terminal records by the surname the
	// user submitted, case-insensitively.
	FindBySubmittedSurname(ctx context.Context, surname string) ([]*models.VerificationRecord, error)

	// FindExpiredClearances returns fully-verified records whose clearance
	// expiry has passed as of now.
	FindExpiredClearances(ctx context.Context, now time.Time) ([]*models.VerificationRecord, error)
}
