package reconcile

import "strings"

// Category buckets the authority's raw result-status strings.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryCleared          // terminal success
	CategoryBarred           // terminal rejection, no resubmission path
	CategorySoftFail         // not found / expired / closed, resubmission allowed
	CategoryPending          // application still in progress at the authority
)

// Action is the per-row outcome reported in the webhook response.
type Action string

const (
	ActionCleared       Action = "cleared"
	ActionBarred        Action = "barred"
	ActionNotFound      Action = "ocg_not_found"
	ActionExpired       Action = "expired"
	ActionClosed        Action = "closed"
	ActionPending       Action = "application_pending"
	ActionNoMatch       Action = "no_match"
	ActionUnknownStatus Action = "unknown_status"
	ActionSkipped       Action = "skipped"
	ActionError         Action = "error"
)

// vocabulary is the fixed mapping from the authority's status strings to
// categories. Keys are uppercase with collapsed whitespace.
var vocabulary = map[string]Category{
	"CLEARED":                 CategoryCleared,
	"CLEARED TO WORK":         CategoryCleared,
	"GRANTED":                 CategoryCleared,
	"BARRED":                  CategoryBarred,
	"INTERIM BARRED":          CategoryBarred,
	"NOT FOUND":               CategorySoftFail,
	"EXPIRED":                 CategorySoftFail,
	"CLOSED":                  CategorySoftFail,
	"APPLICATION CLOSED":      CategorySoftFail,
	"IN PROGRESS":             CategoryPending,
	"APPLICATION IN PROGRESS": CategoryPending,
	"PENDING":                 CategoryPending,
}

// Classify maps a raw result-status string to its category. Unrecognized
// strings come back CategoryUnknown and the row is recorded, not processed.
func Classify(raw string) Category {
	return vocabulary[canonicalStatus(raw)]
}

// classifyAction picks the response action for a category, splitting the
// soft-fail bucket back out by its specific raw status.
func classifyAction(category Category, raw string) Action {
	switch category {
	case CategoryCleared:
		return ActionCleared
	case CategoryBarred:
		return ActionBarred
	case CategoryPending:
		return ActionPending
	case CategorySoftFail:
		switch canonicalStatus(raw) {
		case "EXPIRED":
			return ActionExpired
		case "CLOSED", "APPLICATION CLOSED":
			return ActionClosed
		default:
			return ActionNotFound
		}
	default:
		return ActionUnknownStatus
	}
}

// isNotFound reports whether the raw status is specifically "not found",
// which forces the fuzzy name-matching path even when a number is present.
func isNotFound(raw string) bool {
	return canonicalStatus(raw) == "NOT FOUND"
}

func canonicalStatus(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), " "))
}
