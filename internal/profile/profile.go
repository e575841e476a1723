// Package profile maintains the denormalized verification projection on the
// user's profile. Access control reads these fields directly, so they mirror
// the verification record's status via the fixed status->level table.
package profile

import (
	"context"
	"time"

	id "vouch/pkg/domain"
)

// AccountStatus is the profile-level account state.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Projection is the verification summary mirrored onto a profile.
type Projection struct {
	UserID            id.UserID
	Surname           string
	IdentityVerified  bool
	WWCCVerified      bool
	VerificationLevel int
	Status            AccountStatus
	UpdatedAt         time.Time
}

// Store is the persistence port for profile projections.
//
// Error contract: ErrNotFound (wrapped) for missing profiles, wrapped
// infrastructure errors otherwise. Apply upserts.
type Store interface {
	Apply(ctx context.Context, projection Projection) error
	Get(ctx context.Context, userID id.UserID) (*Projection, error)

	// FindUserIDsBySurname matches profiles by surname, case-insensitively.
	// Used by reconciliation's fuzzy fallback when the authority's result row
	// carries no usable check number.
	FindUserIDsBySurname(ctx context.Context, surname string) ([]id.UserID, error)
}
