// Package oracle wraps the external AI vision/extraction service.
//
// The oracle extracts fields and scores images; it never gets the final say on
// pass/fail. Identity policy lives entirely in internal/verification/identity;
// the background-check path accepts the oracle's verdict only as a first-pass
// filter before the orchestrator's own cross-checks.
package oracle

import (
	"context"

	"vouch/internal/verification/models"
)

// IdentitySubmission is the user-submitted data sent alongside the images so
// the oracle can report per-field extraction without deciding matches itself.
type IdentitySubmission struct {
	Surname     string
	GivenNames  string
	DateOfBirth string // YYYY-MM-DD
	Country     string
}

// IdentityExtraction is the oracle's structured output for the identity check.
// Field values are verbatim; an unreadable field is the empty string, never a
// guess.
type IdentityExtraction struct {
	DocumentValid bool   `json:"document_valid"`
	ImageQuality  string `json:"image_quality"` // "good" | "fair" | "unreadable"

	Surname     string `json:"surname"`
	GivenNames  string `json:"given_names"`
	DateOfBirth string `json:"date_of_birth"`
	ExpiryDate  string `json:"expiry_date"` // YYYY-MM-DD

	SelfieUsable        bool     `json:"selfie_usable"`
	SelfieIssues        []string `json:"selfie_issues"` // coverings, non-live capture, off-angle, cropped
	FaceMatchConfidence int      `json:"face_match_confidence"` // 0-100

	ConsistencyOK bool   `json:"consistency_ok"`
	Reasoning     string `json:"reasoning"`
}

// WWCCSubmission is the submitted background-check data.
type WWCCSubmission struct {
	Method      models.WWCCMethod
	Surname     string
	GivenNames  string
	CheckNumber string
}

// WWCCExtraction is the oracle's structured output for a background-check
// document. Unlike the identity path, Passed carries the oracle's own verdict;
// the orchestrator still applies the identity cross-check on top.
type WWCCExtraction struct {
	Surname       string `json:"surname"`
	FirstName     string `json:"first_name"`
	OtherNames    string `json:"other_names"`
	CheckNumber   string `json:"check_number"`
	ClearanceType string `json:"clearance_type"`
	ExpiryDate    string `json:"expiry_date"` // YYYY-MM-DD

	Passed    bool   `json:"passed"`
	Reasoning string `json:"reasoning"`
}

// Extractor is the narrow port the orchestrator depends on.
type Extractor interface {
	ExtractIdentity(ctx context.Context, docURL, selfieURL string, submitted IdentitySubmission) (*IdentityExtraction, error)
	ExtractBackgroundCheck(ctx context.Context, docURL string, submitted WWCCSubmission) (*WWCCExtraction, error)
}
