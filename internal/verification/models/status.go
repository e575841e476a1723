package models

import (
	"fmt"

	"vouch/pkg/platform/sentinel"
)

// Status is the single source of truth for a record's position in the
// verification pipeline. The numeric codes are a contract consumed by access
// control and the intake UI; do not renumber.
type Status int

const (
	StatusNotStarted            Status = 0
	StatusIdentityPending       Status = 10 // pending identity auto-check
	StatusIdentityManualReview  Status = 11
	StatusIdentityRejected      Status = 12
	StatusWWCCPending           Status = 20 // pending background-check auto-check
	StatusWWCCManualReview      Status = 21
	StatusWWCCRejected          Status = 22
	StatusWWCCExpired           Status = 23
	StatusWWCCDocumentFailed    Status = 24
	StatusWWCCProcessing        Status = 25 // ephemeral claim held by one orchestrator invocation
	StatusProvisionallyVerified Status = 30
	StatusFullyVerified         Status = 40
)

// transitions is the exhaustive edge table. A status only ever moves along one
// of these edges; anything else is rejected. The reconciliation edges
// ({20,21,25,30}->40, ->22, ->20) cover confirmations that arrive from the
// external authority while a record sits anywhere short of fully verified.
var transitions = map[Status][]Status{
	StatusNotStarted:           {StatusIdentityPending},
	StatusIdentityPending:      {StatusWWCCPending, StatusIdentityManualReview},
	StatusIdentityManualReview: {StatusWWCCPending, StatusIdentityRejected},
	StatusIdentityRejected:     {StatusIdentityPending},
	StatusWWCCPending: {
		StatusWWCCProcessing, StatusWWCCManualReview, StatusWWCCDocumentFailed,
		StatusFullyVerified, StatusWWCCRejected,
	},
	StatusWWCCProcessing: {
		StatusProvisionallyVerified, StatusWWCCManualReview, StatusWWCCDocumentFailed,
		StatusFullyVerified, StatusWWCCRejected, StatusWWCCPending,
	},
	StatusWWCCManualReview: {
		StatusFullyVerified, StatusWWCCRejected, StatusWWCCPending,
	},
	StatusWWCCRejected:       {StatusWWCCPending},
	StatusWWCCExpired:        {StatusWWCCPending},
	StatusWWCCDocumentFailed: {StatusWWCCPending},
	StatusProvisionallyVerified: {
		StatusFullyVerified, StatusWWCCRejected, StatusWWCCPending,
	},
	StatusFullyVerified: {StatusWWCCExpired},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the record has reached full verification.
// Terminal records are excluded from reconciliation matching and only leave
// this state through expiry detection.
func (s Status) IsTerminal() bool { return s == StatusFullyVerified }

// IsValid reports whether s is one of the defined status codes.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusIdentityPending, StatusIdentityManualReview,
		StatusIdentityRejected, StatusWWCCPending, StatusWWCCManualReview,
		StatusWWCCRejected, StatusWWCCExpired, StatusWWCCDocumentFailed,
		StatusWWCCProcessing, StatusProvisionallyVerified, StatusFullyVerified:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusIdentityPending:
		return "identity_pending"
	case StatusIdentityManualReview:
		return "identity_manual_review"
	case StatusIdentityRejected:
		return "identity_rejected"
	case StatusWWCCPending:
		return "wwcc_pending"
	case StatusWWCCManualReview:
		return "wwcc_manual_review"
	case StatusWWCCRejected:
		return "wwcc_rejected"
	case StatusWWCCExpired:
		return "wwcc_expired"
	case StatusWWCCDocumentFailed:
		return "wwcc_document_failed"
	case StatusWWCCProcessing:
		return "wwcc_processing"
	case StatusProvisionallyVerified:
		return "provisionally_verified"
	case StatusFullyVerified:
		return "fully_verified"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// LevelForStatus derives the profile verification level from a status.
// The mapping is fixed; the profile projection must never disagree with it.
// Status 24 sits in the background-check cluster and maps to level 2.
func LevelForStatus(s Status) int {
	switch s {
	case StatusNotStarted, StatusIdentityPending, StatusIdentityManualReview, StatusIdentityRejected:
		return 1
	case StatusWWCCPending, StatusWWCCManualReview, StatusWWCCRejected,
		StatusWWCCExpired, StatusWWCCDocumentFailed, StatusWWCCProcessing:
		return 2
	case StatusProvisionallyVerified:
		return 3
	case StatusFullyVerified:
		return 4
	}
	return 0
}

// ErrInvalidTransition wraps sentinel.ErrInvalidState with both endpoints so
// callers can log the attempted edge.
func ErrInvalidTransition(from, to Status) error {
	return fmt.Errorf("transition %s -> %s not permitted: %w", from, to, sentinel.ErrInvalidState)
}
