// Package identity holds the pass/fail policy for the identity (passport and
// selfie) verification step.
//
// This is pure domain logic - no I/O, no side effects. The oracle extracts and
// scores; every decision about the outcome is made here so the rules stay
// centralized and testable.
package identity

import (
	"fmt"
	"strings"
	"time"

	"vouch/internal/oracle"
)

// SelfieConfidenceThreshold is the minimum face-match confidence accepted when
// the selfie is otherwise usable.
const SelfieConfidenceThreshold = 75

// Submitted is the biographical data the user typed in during intake.
type Submitted struct {
	Surname     string
	GivenNames  string
	DateOfBirth string // YYYY-MM-DD
	Country     string
}

// Decision is the outcome of the identity rules.
type Decision struct {
	Pass      bool
	Issues    []string
	Guidance  Guidance
	Reasoning string
}

// Guidance selects the canned user-facing explanation for a failed check.
type Guidance string

const (
	GuidanceNameDOBMismatch Guidance = "name_dob_mismatch"
	GuidanceLowConfidence   Guidance = "low_confidence_selfie"
	GuidanceUnreadable      Guidance = "unreadable_document"
	GuidanceExpired         Guidance = "expired_document"
	GuidanceGeneric         Guidance = "generic"
)

// Message returns the remediation text shown to the user.
func (g Guidance) Message() string {
	switch g {
	case GuidanceNameDOBMismatch:
		return "The name or date of birth on your document does not match what you entered. " +
			"Re-check that your surname, given names and date of birth match your document exactly, then resubmit."
	case GuidanceLowConfidence:
		return "We could not confidently match your selfie to your document photo. " +
			"Retake the selfie in good lighting, facing the camera directly, and remove sunglasses, hats or face coverings."
	case GuidanceUnreadable:
		return "We could not read your document clearly. " +
			"Upload a sharp, well-lit photo of the full document with no glare and all four corners visible."
	case GuidanceExpired:
		return "Your identity document has expired. Please submit a current document."
	default:
		return "We could not verify your identity automatically. " +
			"Our team will review your submission, or you can resubmit clearer images."
	}
}

// Evaluate applies the identity rule set to the oracle's extraction. It never
// performs I/O; now anchors the document expiry comparison.
func Evaluate(submitted Submitted, extraction *oracle.IdentityExtraction, now time.Time) Decision {
	var issues []string

	unreadableDoc := extraction.ImageQuality == "unreadable"
	if !extraction.DocumentValid {
		issues = append(issues, "document does not appear to be a valid identity document")
	}
	if unreadableDoc {
		issues = append(issues, "document image unreadable")
	}

	selfieLowConfidence := false
	if !extraction.SelfieUsable {
		if len(extraction.SelfieIssues) == 0 {
			issues = append(issues, "selfie unusable")
		}
		for _, issue := range extraction.SelfieIssues {
			issues = append(issues, "selfie: "+issue)
		}
	} else if extraction.FaceMatchConfidence < SelfieConfidenceThreshold {
		selfieLowConfidence = true
		issues = append(issues, fmt.Sprintf("face match confidence %d below threshold %d",
			extraction.FaceMatchConfidence, SelfieConfidenceThreshold))
	}

	// Mandatory extractions. A field the oracle could not read is a fail on
	// its own; it must never be guessed into a match.
	nameDOBIssue := false
	if extraction.Surname == "" {
		issues = append(issues, "surname could not be extracted")
	} else if !equalFold(submitted.Surname, extraction.Surname) {
		nameDOBIssue = true
		issues = append(issues, "surname does not match document")
	}
	if extraction.GivenNames == "" {
		issues = append(issues, "given names could not be extracted")
	} else if !firstTokenMatch(submitted.GivenNames, extraction.GivenNames) {
		nameDOBIssue = true
		issues = append(issues, "given names do not match document")
	}
	if extraction.DateOfBirth == "" {
		issues = append(issues, "date of birth could not be extracted")
	} else if !equalFold(submitted.DateOfBirth, extraction.DateOfBirth) {
		nameDOBIssue = true
		issues = append(issues, "date of birth does not match document")
	}

	expired := false
	if expiry, err := time.Parse("2006-01-02", extraction.ExpiryDate); err == nil && expiry.Before(now) {
		expired = true
		issues = append(issues, "document expired on "+extraction.ExpiryDate)
	}

	if !extraction.ConsistencyOK {
		issues = append(issues, "document internal consistency check failed")
	}

	if len(issues) == 0 {
		return Decision{Pass: true, Reasoning: extraction.Reasoning}
	}

	return Decision{
		Pass:      false,
		Issues:    issues,
		Guidance:  dominantGuidance(nameDOBIssue, selfieLowConfidence, unreadableDoc, expired),
		Reasoning: extraction.Reasoning,
	}
}

// dominantGuidance picks one template by failure category. Mismatches win over
// image problems: a user who can fix a typo should be told that first.
func dominantGuidance(nameDOB, lowConfidence, unreadable, expired bool) Guidance {
	switch {
	case nameDOB:
		return GuidanceNameDOBMismatch
	case lowConfidence:
		return GuidanceLowConfidence
	case unreadable:
		return GuidanceUnreadable
	case expired:
		return GuidanceExpired
	default:
		return GuidanceGeneric
	}
}

// equalFold compares whitespace-trimmed values case-insensitively; otherwise
// the match is exact.
func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// firstTokenMatch compares only the first token of each side, tolerating
// middle-name ordering differences between the form and the document.
func firstTokenMatch(a, b string) bool {
	return equalFold(firstToken(a), firstToken(b))
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
