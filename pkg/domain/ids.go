// Package domain holds typed identifiers shared across modules.
//
// IDs are UUID wrappers distinct at the type level so a user ID can never be
// passed where a verification ID is expected. Construct via the Parse helpers
// at trust boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "vouch/pkg/domain-errors"
)

// UserID identifies a platform user (carer).
type UserID uuid.UUID

// VerificationID identifies a verification attempt.
type VerificationID uuid.UUID

// NewVerificationID mints a random verification ID.
func NewVerificationID() VerificationID {
	return VerificationID(uuid.New())
}

// ParseUserID validates external input into a UserID.
// Errors: CodeInvalidInput when empty, malformed, or the nil UUID.
func ParseUserID(s string) (UserID, error) {
	u, err := parse(s)
	return UserID(u), err
}

// ParseVerificationID validates external input into a VerificationID.
// Errors: CodeInvalidInput when empty, malformed, or the nil UUID.
func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parse(s)
	return VerificationID(u), err
}

func parse(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the ID is unset.
func (id UserID) IsZero() bool         { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
