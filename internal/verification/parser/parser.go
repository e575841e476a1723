// Package parser implements the deterministic reader for authority-issued
// grant notification documents.
//
// It runs before any oracle call for text-extractable grant documents. The one
// distinction that matters most here: "could not read the document" escalates
// to the oracle (NeedsFallback), while "read it and the data does not hold up"
// is a genuine fail that must NOT be retried away by the oracle.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"vouch/internal/verification/wwcc"
)

// MarkerThreshold is the minimum number of template authenticity markers a
// document must carry before field extraction is trusted.
const MarkerThreshold = 6

// markers are fixed phrases a genuine grant notification carries. Template
// drift lowers the count, which escalates to the oracle rather than failing.
var markers = []string{
	"office of the children's guardian",
	"@kidsguardian.nsw.gov.au",
	"working with children check",
	"has been granted",
	"wwc number",
	"expiry date",
	"nsw government",
	"do not reply to this email",
	"keep this notification for your records",
}

// labels map document labels to extracted fields. The format puts the label on
// one line and the value on the next non-empty line.
var labels = map[string]string{
	"family name":    "surname",
	"first name":     "first_name",
	"other names":    "other_names",
	"wwc number":     "check_number",
	"clearance type": "clearance_type",
	"expiry date":    "expiry_date",
}

var checkNumberAnywhere = regexp.MustCompile(`(?i)\bWWC\d{7}[A-Z]\b`)

// MinimumValidity is how far past now the clearance must extend. A clearance
// expiring inside this window is reported, and fails, alongside an already
// expired one.
const MinimumValidity = 3 * 30 * 24 * time.Hour

// Submitted carries the values to validate against. Empty values skip their
// check (some submission methods never collect a name) rather than failing it.
type Submitted struct {
	Surname     string
	FirstName   string
	CheckNumber string
}

// Fields is the extracted label/value table in canonical form.
type Fields struct {
	Surname       string
	FirstName     string
	OtherNames    string
	CheckNumber   string
	ClearanceType string
	ExpiryDate    string // YYYY-MM-DD
}

// Result is the parser's verdict.
type Result struct {
	MarkersFound  int
	Fields        Fields
	Pass          bool
	NeedsFallback bool
	Issues        []string
	Reasoning     string
}

// Parse reads a grant notification's plain text and validates it against the
// submitted data. now anchors the expiry checks.
func Parse(text string, submitted Submitted, now time.Time) Result {
	lower := strings.ToLower(text)

	result := Result{}
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			result.MarkersFound++
		}
	}
	if result.MarkersFound < MarkerThreshold {
		// Not enough to authenticate: the template may simply have shifted.
		// Let the oracle try instead of hard-failing the user.
		result.NeedsFallback = true
		result.Reasoning = fmt.Sprintf(
			"could not authenticate document template (%d/%d markers found)",
			result.MarkersFound, len(markers))
		return result
	}

	lines := splitLines(text)
	values := extractLabelValues(lines)

	result.Fields = Fields{
		Surname:       values["surname"],
		FirstName:     values["first_name"],
		OtherNames:    values["other_names"],
		CheckNumber:   wwcc.NormalizeCheckNumber(values["check_number"]),
		ClearanceType: values["clearance_type"],
	}

	// The check number is also printed in the header above the detail table;
	// the two must agree.
	headerNumber := headerCheckNumber(lines)

	expiryRaw := values["expiry_date"]
	expiryISO, expiryErr := ConvertDate(expiryRaw)
	result.Fields.ExpiryDate = expiryISO

	// Fallback applies only when critical fields could not be read at all.
	// Extracted-but-mismatching values are a genuine fail, handled below.
	if result.Fields.CheckNumber == "" && headerNumber == "" {
		result.NeedsFallback = true
		result.Reasoning = "check number could not be extracted"
		return result
	}
	if expiryRaw == "" || expiryErr != nil {
		result.NeedsFallback = true
		result.Reasoning = "expiry date could not be extracted"
		return result
	}
	if result.Fields.CheckNumber == "" {
		result.Fields.CheckNumber = headerNumber
	}

	if submitted.Surname != "" && !strings.EqualFold(strings.TrimSpace(submitted.Surname), result.Fields.Surname) {
		result.Issues = append(result.Issues, "surname does not match document")
	}
	if submitted.FirstName != "" && !firstTokenEqualFold(submitted.FirstName, result.Fields.FirstName) {
		result.Issues = append(result.Issues, "first name does not match document")
	}
	if !wwcc.ValidCheckNumber(result.Fields.CheckNumber) {
		result.Issues = append(result.Issues, "check number format invalid: "+result.Fields.CheckNumber)
	}
	if headerNumber != "" && headerNumber != result.Fields.CheckNumber {
		result.Issues = append(result.Issues,
			fmt.Sprintf("check number mismatch between header (%s) and detail table (%s)",
				headerNumber, result.Fields.CheckNumber))
	}
	if submitted.CheckNumber != "" &&
		wwcc.NormalizeCheckNumber(submitted.CheckNumber) != result.Fields.CheckNumber {
		result.Issues = append(result.Issues, "check number does not match submitted value")
	}

	expiry, _ := time.Parse("2006-01-02", expiryISO)
	if expiry.Before(now) {
		result.Issues = append(result.Issues, "clearance expired on "+expiryISO)
	} else if expiry.Before(now.Add(MinimumValidity)) {
		result.Issues = append(result.Issues, "clearance expires within 3 months ("+expiryISO+")")
	}

	if len(result.Issues) > 0 {
		result.Reasoning = "document authenticated but validation failed: " + strings.Join(result.Issues, "; ")
		return result
	}

	result.Pass = true
	result.Reasoning = fmt.Sprintf("document authenticated (%d/%d markers), all fields validated",
		result.MarkersFound, len(markers))
	return result
}

// ConvertDate converts the authority's DD/MM/YYYY format to YYYY-MM-DD.
// The transform is lossless and invertible for valid calendar dates.
func ConvertDate(local string) (string, error) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(local))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", local, err)
	}
	return t.Format("2006-01-02"), nil
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		out = append(out, strings.TrimSpace(line))
	}
	return out
}

// extractLabelValues walks the lines looking for known labels; the value is
// the next non-empty line that is not itself a label.
func extractLabelValues(lines []string) map[string]string {
	values := make(map[string]string)
	for i, line := range lines {
		key, ok := labels[strings.ToLower(strings.TrimRight(line, ":"))]
		if !ok {
			continue
		}
		if _, seen := values[key]; seen {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			next := lines[j]
			if next == "" {
				continue
			}
			if _, isLabel := labels[strings.ToLower(strings.TrimRight(next, ":"))]; isLabel {
				break
			}
			values[key] = next
			break
		}
	}
	return values
}

// headerCheckNumber finds a check number printed above the detail table, i.e.
// before the "wwc number" label line.
func headerCheckNumber(lines []string) string {
	for _, line := range lines {
		if strings.ToLower(strings.TrimRight(line, ":")) == "wwc number" {
			break
		}
		if match := checkNumberAnywhere.FindString(line); match != "" {
			return wwcc.NormalizeCheckNumber(match)
		}
	}
	return ""
}

func firstTokenEqualFold(a, b string) bool {
	return strings.EqualFold(firstToken(a), firstToken(b))
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
