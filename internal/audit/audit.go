// Package audit captures an append-only trail of verification pipeline
// actions: phase outcomes, admin reviews, reconciliation rows and expiry
// demotions. Events are transport-agnostic; stores and sinks fan out.
package audit

import (
	"context"
	"time"

	id "vouch/pkg/domain"
)

// Action names a recorded pipeline action.
type Action string

const (
	ActionIdentityPassed     Action = "identity_passed"
	ActionIdentityFailed     Action = "identity_failed"
	ActionWWCCPassed         Action = "wwcc_passed"
	ActionWWCCFailed         Action = "wwcc_failed"
	ActionWWCCManualReview   Action = "wwcc_manual_review"
	ActionAdminApproved      Action = "admin_approved"
	ActionAdminRejected      Action = "admin_rejected"
	ActionResubmissionOpened Action = "resubmission_opened"
	ActionReconciled         Action = "reconciled"
	ActionClearanceExpired   Action = "clearance_expired"
)

// Event is one audit trail entry.
type Event struct {
	Timestamp      time.Time
	UserID         id.UserID
	VerificationID id.VerificationID
	Actor          string // "system", "authority", or an admin identifier
	Action         Action
	Detail         string
	RequestID      string
}

// Store is the persistence port for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByVerification(ctx context.Context, verificationID id.VerificationID) ([]Event, error)
}
