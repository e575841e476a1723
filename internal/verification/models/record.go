package models

import (
	"time"

	id "vouch/pkg/domain"
)

// WWCCMethod is the submission method chosen for the background check.
type WWCCMethod string

const (
	// WWCCMethodGrantDocument is the authority-issued grant notification email.
	WWCCMethodGrantDocument WWCCMethod = "grant_document"
	// WWCCMethodWalletScreenshot is a screenshot from the official wallet app.
	WWCCMethodWalletScreenshot WWCCMethod = "wallet_screenshot"
	// WWCCMethodManualEntry is a typed-in check number with no document.
	WWCCMethodManualEntry WWCCMethod = "manual_entry"
)

// IsValid reports whether m is a supported submission method.
func (m WWCCMethod) IsValid() bool {
	switch m {
	case WWCCMethodGrantDocument, WWCCMethodWalletScreenshot, WWCCMethodManualEntry:
		return true
	}
	return false
}

// VerificationRecord is one verification attempt for a user. It is never hard
// deleted; rejections and resubmissions move status on the same record.
//
// The status field is unexported on purpose: it only moves via Transition so an
// illegal edge is impossible outside this package. Stores rehydrate it through
// RehydrateStatus.
type VerificationRecord struct {
	ID     id.VerificationID
	UserID id.UserID

	status Status

	// Identity step: submitted biographical data and the stored document
	// references (opaque storage paths, never raw bytes).
	SubmittedSurname    string
	SubmittedGivenNames string
	SubmittedDOB        string // YYYY-MM-DD
	SubmittedCountry    string
	IdentityDocPath     string
	SelfiePath          string

	// Identity step: extracted counterparts, verbatim from the oracle.
	// Empty string means the oracle could not read the field.
	ExtractedSurname    string
	ExtractedGivenNames string
	ExtractedDOB        string
	ExtractedDocExpiry  string

	IdentityReasoning  string
	IdentityIssues     []string
	IdentityVerified   bool
	IdentityVerifiedAt *time.Time

	// Background check step.
	WWCCMethod          WWCCMethod
	WWCCDocPath         string
	SubmittedWWCCNumber string
	ExtractedWWCCNumber string
	WWCCSurname         string
	WWCCFirstName       string
	WWCCOtherNames      string
	ClearanceType       string
	WWCCExpiry          *time.Time
	WWCCReasoning       string
	WWCCIssues          []string
	WWCCVerified        bool
	WWCCVerifiedAt      *time.Time
	WWCCSubmittedAt     *time.Time
	RejectionReason     string
	CrossCheckStatus    string
	CrossCheckAt        *time.Time

	// Audit block sourced from the external authority's confirmation.
	AuthorityCaseID       string
	AuthorityOrgName      string
	AuthorityVerifiedAt   *time.Time
	InboundMessageID      string
	AuthorityRecordedAt   *time.Time
	AuthorityResultStatus string
	AuthorityResultText   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord creates a record at the start of the identity step.
func NewRecord(userID id.UserID, now time.Time) *VerificationRecord {
	return &VerificationRecord{
		ID:        id.NewVerificationID(),
		UserID:    userID,
		status:    StatusIdentityPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Status returns the current pipeline position.
func (r *VerificationRecord) Status() Status { return r.status }

// Transition moves the record along a legal edge or fails with
// ErrInvalidTransition. Callers treat the error as "record moved on, no-op".
func (r *VerificationRecord) Transition(to Status) error {
	if !CanTransition(r.status, to) {
		return ErrInvalidTransition(r.status, to)
	}
	r.status = to
	return nil
}

// Level derives the profile verification level for this record.
func (r *VerificationRecord) Level() int { return LevelForStatus(r.status) }

// RehydrateStatus sets the status directly. Stores use it when loading rows;
// everything else goes through Transition.
func RehydrateStatus(r *VerificationRecord, s Status) { r.status = s }
