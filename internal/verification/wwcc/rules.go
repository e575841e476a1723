// Package wwcc holds the pass/fail policy for the background-check step that
// sits outside the oracle and the deterministic parser.
//
// Pure domain logic - no I/O. The oracle's verdict is accepted as a first-pass
// filter on this path, but the check-number format and the identity surname
// cross-check are always enforced here, whatever the source said.
package wwcc

import (
	"regexp"
	"strings"
	"time"

	"vouch/internal/oracle"
)

// CheckNumberPattern is the authority's check-number format. Any value not
// matching is rejected regardless of where it came from.
var CheckNumberPattern = regexp.MustCompile(`^WWC\d{7}[A-Z]$`)

// ValidCheckNumber reports whether number matches the authority's format after
// trimming and uppercasing.
func ValidCheckNumber(number string) bool {
	return CheckNumberPattern.MatchString(strings.ToUpper(strings.TrimSpace(number)))
}

// NormalizeCheckNumber canonicalizes a check number for storage and matching.
func NormalizeCheckNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

// Decision is the outcome of the oracle-path rules.
type Decision struct {
	Pass      bool
	Issues    []string
	Reasoning string
}

// EvaluateOracle applies the rules on top of the oracle's background-check
// extraction. The oracle's own verdict gates first; local invariants follow.
func EvaluateOracle(extraction *oracle.WWCCExtraction, now time.Time) Decision {
	var issues []string

	if !extraction.Passed {
		issues = append(issues, "document did not pass automated checks")
	}
	if extraction.CheckNumber == "" {
		issues = append(issues, "check number could not be extracted")
	} else if !ValidCheckNumber(extraction.CheckNumber) {
		issues = append(issues, "check number format invalid: "+extraction.CheckNumber)
	}
	if expiry, err := time.Parse("2006-01-02", extraction.ExpiryDate); err == nil && expiry.Before(now) {
		issues = append(issues, "clearance expired on "+extraction.ExpiryDate)
	}

	if len(issues) == 0 {
		return Decision{Pass: true, Reasoning: extraction.Reasoning}
	}
	return Decision{Pass: false, Issues: issues, Reasoning: extraction.Reasoning}
}

// SurnamesMatch is the identity cross-check applied after either extraction
// path passes: the background-check document must name the same person the
// identity step verified.
func SurnamesMatch(identitySurname, documentSurname string) bool {
	return strings.EqualFold(strings.TrimSpace(identitySurname), strings.TrimSpace(documentSurname))
}
