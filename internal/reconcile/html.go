package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Notice is the decomposed authority confirmation email.
type Notice struct {
	CaseID     string
	OrgName    string
	ReportedAt string // the authority's own timestamp, verbatim
	Rows       []ResultRow
}

// ResultRow is one per-individual result in the notice.
type ResultRow struct {
	FamilyName      string
	ReferenceNumber string
	ResultStatus    string // raw, classified later
	ResultText      string
	ExpiryDate      string // authority-local DD/MM/YYYY, may be empty
}

// authorityZone is the authority's local offset. The notices carry naive
// local timestamps; +10:00 is a known approximation that ignores daylight
// saving, kept because the consumer only needs day-level precision.
var authorityZone = time.FixedZone("+10:00", 10*60*60)

// ParseNotice decomposes the authority's HTML email body. Header fields sit
// in labelled paragraphs; results are a table recognized by its column
// headers, so surrounding boilerplate and column reordering are tolerated.
func ParseNotice(html string) (*Notice, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse notice html: %w", err)
	}

	notice := &Notice{}
	doc.Find("p, div, td").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		switch {
		case notice.CaseID == "" && hasLabel(text, "case id"):
			notice.CaseID = labelValue(text)
		case notice.OrgName == "" && hasLabel(text, "organisation"):
			notice.OrgName = labelValue(text)
		case notice.ReportedAt == "" && hasLabel(text, "date"):
			notice.ReportedAt = labelValue(text)
		}
		return notice.CaseID == "" || notice.OrgName == "" || notice.ReportedAt == ""
	})

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		columns := resultColumns(table)
		if columns == nil {
			return true
		}
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			if i == 0 {
				return
			}
			cells := tr.Find("td")
			if cells.Length() == 0 {
				return
			}
			row := ResultRow{}
			cells.Each(func(j int, td *goquery.Selection) {
				value := strings.TrimSpace(td.Text())
				switch columns[j] {
				case "family_name":
					row.FamilyName = value
				case "reference_number":
					row.ReferenceNumber = value
				case "result_status":
					row.ResultStatus = value
				case "result_text":
					row.ResultText = value
				case "expiry_date":
					row.ExpiryDate = value
				}
			})
			if row.FamilyName != "" || row.ReferenceNumber != "" || row.ResultStatus != "" {
				notice.Rows = append(notice.Rows, row)
			}
		})
		return false
	})

	if len(notice.Rows) == 0 {
		return nil, fmt.Errorf("notice contains no result rows")
	}
	return notice, nil
}

// resultColumns maps a table's column indexes to row fields, or nil when the
// table is not a results table.
func resultColumns(table *goquery.Selection) map[int]string {
	header := table.Find("tr").First()
	cells := header.Find("th")
	if cells.Length() == 0 {
		cells = header.Find("td")
	}

	columns := make(map[int]string)
	cells.Each(func(i int, cell *goquery.Selection) {
		switch normalizeHeader(cell.Text()) {
		case "family name", "surname":
			columns[i] = "family_name"
		case "reference number", "wwc number", "check number":
			columns[i] = "reference_number"
		case "result", "result status", "status", "outcome":
			columns[i] = "result_status"
		case "description", "details", "result description":
			columns[i] = "result_text"
		case "expiry date", "expiry":
			columns[i] = "expiry_date"
		}
	})

	hasName, hasStatus := false, false
	for _, field := range columns {
		if field == "family_name" {
			hasName = true
		}
		if field == "result_status" {
			hasStatus = true
		}
	}
	if !hasName || !hasStatus {
		return nil
	}
	return columns
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func hasLabel(text, label string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, label+":") || strings.HasPrefix(lower, label+" :")
}

// labelValue takes the text after the label's colon, first line only, so a
// wrapping element that flattens several labelled lines cannot bleed one
// value into the next.
func labelValue(text string) string {
	idx := strings.Index(text, ":")
	if idx < 0 {
		return ""
	}
	value := text[idx+1:]
	if nl := strings.IndexByte(value, '\n'); nl >= 0 {
		value = value[:nl]
	}
	return strings.TrimSpace(value)
}

// ParseAuthorityTime converts the authority's naive local timestamp into an
// offset-aware time in the authority's zone.
func ParseAuthorityTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006",
	} {
		if t, err := time.ParseInLocation(layout, raw, authorityZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized authority timestamp %q", raw)
}
