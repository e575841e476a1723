package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/oracle"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func goodSubmission() Submitted {
	return Submitted{
		Surname:     "Nguyen",
		GivenNames:  "Thi Minh",
		DateOfBirth: "1990-04-12",
		Country:     "AU",
	}
}

func goodExtraction() *oracle.IdentityExtraction {
	return &oracle.IdentityExtraction{
		DocumentValid:       true,
		ImageQuality:        "good",
		Surname:             "Nguyen",
		GivenNames:          "Thi Minh",
		DateOfBirth:         "1990-04-12",
		ExpiryDate:          "2030-01-01",
		SelfieUsable:        true,
		FaceMatchConfidence: 92,
		ConsistencyOK:       true,
		Reasoning:           "clear match",
	}
}

func TestEvaluate_Pass(t *testing.T) {
	decision := Evaluate(goodSubmission(), goodExtraction(), testNow)

	require.True(t, decision.Pass)
	assert.Empty(t, decision.Issues)
	assert.Equal(t, "clear match", decision.Reasoning)
}

func TestEvaluate_CaseAndWhitespaceInsensitive(t *testing.T) {
	submitted := goodSubmission()
	submitted.Surname = "  NGUYEN "
	submitted.GivenNames = "thi"

	decision := Evaluate(submitted, goodExtraction(), testNow)

	assert.True(t, decision.Pass, "trimmed case-insensitive names should match")
}

func TestEvaluate_FirstTokenGivenNames(t *testing.T) {
	// Middle name ordering differs between the form and the document; only
	// the first given name has to match.
	submitted := goodSubmission()
	submitted.GivenNames = "Thi"
	extraction := goodExtraction()
	extraction.GivenNames = "Thi Minh Chau"

	decision := Evaluate(submitted, extraction, testNow)
	assert.True(t, decision.Pass)
}

func TestEvaluate_Failures(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(s *Submitted, e *oracle.IdentityExtraction)
		wantGuidance Guidance
		wantIssue    string
	}{
		{
			name:         "surname mismatch",
			mutate:       func(s *Submitted, e *oracle.IdentityExtraction) { s.Surname = "Smith" },
			wantGuidance: GuidanceNameDOBMismatch,
			wantIssue:    "surname does not match document",
		},
		{
			name:         "dob mismatch",
			mutate:       func(s *Submitted, e *oracle.IdentityExtraction) { e.DateOfBirth = "1991-04-12" },
			wantGuidance: GuidanceNameDOBMismatch,
			wantIssue:    "date of birth does not match document",
		},
		{
			name: "low selfie confidence",
			mutate: func(s *Submitted, e *oracle.IdentityExtraction) {
				e.FaceMatchConfidence = SelfieConfidenceThreshold - 1
			},
			wantGuidance: GuidanceLowConfidence,
			wantIssue:    "face match confidence 74 below threshold 75",
		},
		{
			name: "unreadable document",
			mutate: func(s *Submitted, e *oracle.IdentityExtraction) {
				e.ImageQuality = "unreadable"
			},
			wantGuidance: GuidanceUnreadable,
			wantIssue:    "document image unreadable",
		},
		{
			name: "expired document",
			mutate: func(s *Submitted, e *oracle.IdentityExtraction) {
				e.ExpiryDate = "2020-01-01"
			},
			wantGuidance: GuidanceExpired,
			wantIssue:    "document expired on 2020-01-01",
		},
		{
			name: "invalid document",
			mutate: func(s *Submitted, e *oracle.IdentityExtraction) {
				e.DocumentValid = false
			},
			wantGuidance: GuidanceGeneric,
			wantIssue:    "document does not appear to be a valid identity document",
		},
		{
			name: "consistency failure",
			mutate: func(s *Submitted, e *oracle.IdentityExtraction) {
				e.ConsistencyOK = false
			},
			wantGuidance: GuidanceGeneric,
			wantIssue:    "document internal consistency check failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitted := goodSubmission()
			extraction := goodExtraction()
			tt.mutate(&submitted, extraction)

			decision := Evaluate(submitted, extraction, testNow)

			require.False(t, decision.Pass)
			assert.Equal(t, tt.wantGuidance, decision.Guidance)
			assert.Contains(t, decision.Issues, tt.wantIssue)
		})
	}
}

func TestEvaluate_MissingExtractionIsFailure(t *testing.T) {
	// A field the oracle could not read must fail, never default to a match.
	extraction := goodExtraction()
	extraction.Surname = ""
	extraction.DateOfBirth = ""

	decision := Evaluate(goodSubmission(), extraction, testNow)

	require.False(t, decision.Pass)
	assert.Contains(t, decision.Issues, "surname could not be extracted")
	assert.Contains(t, decision.Issues, "date of birth could not be extracted")
	// Missing fields are not typo mismatches, so the generic template applies.
	assert.Equal(t, GuidanceGeneric, decision.Guidance)
}

func TestEvaluate_MismatchWinsOverImageProblems(t *testing.T) {
	submitted := goodSubmission()
	submitted.Surname = "Smith"
	extraction := goodExtraction()
	extraction.FaceMatchConfidence = 10

	decision := Evaluate(submitted, extraction, testNow)

	require.False(t, decision.Pass)
	assert.Equal(t, GuidanceNameDOBMismatch, decision.Guidance)
}

func TestEvaluate_UnusableSelfieIssues(t *testing.T) {
	extraction := goodExtraction()
	extraction.SelfieUsable = false
	extraction.SelfieIssues = []string{"face covering", "off-angle"}

	decision := Evaluate(goodSubmission(), extraction, testNow)

	require.False(t, decision.Pass)
	assert.Contains(t, decision.Issues, "selfie: face covering")
	assert.Contains(t, decision.Issues, "selfie: off-angle")
}

func TestGuidanceMessages(t *testing.T) {
	for _, g := range []Guidance{
		GuidanceNameDOBMismatch,
		GuidanceLowConfidence,
		GuidanceUnreadable,
		GuidanceExpired,
		GuidanceGeneric,
	} {
		assert.NotEmpty(t, g.Message())
	}
	assert.Equal(t, Guidance("something else").Message(), GuidanceGeneric.Message())
}
