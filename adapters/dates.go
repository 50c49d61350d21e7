package adapters

import (
	"regexp"
	"strings"
	"time"
)

// dateFormats is tried in order. Vendors are wildly inconsistent; ISO variants
// first, then the American formats the HTML platforms favor.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
	"2006-01-02",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04PM",
	"01/02/2006 3:04 PM",
	"1/2/2006",
	"01/02/2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"2 Jan 2006 15:04",
}

var spaceRun = regexp.MustCompile(`\s+`)

// ParseDate tries the known vendor formats in order, then a lenient fallback
// that strips ordinal suffixes and timezone tails. Returns nil on failure
// rather than an error: an unparseable date never aborts a record.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
	if raw == "" {
		return nil
	}

	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}

	// Lenient pass: drop "1st"/"2nd"/"3rd"/"4th" suffixes, AM/PM spacing
	// quirks, and trailing timezone names, then retry.
	cleaned := ordinalSuffix.ReplaceAllString(raw, "$1")
	cleaned = strings.NewReplacer("a.m.", "AM", "p.m.", "PM", "am", "AM", "pm", "PM").Replace(cleaned)
	cleaned = tzTail.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return &t
		}
	}
	return nil
}

var (
	ordinalSuffix = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)
	tzTail        = regexp.MustCompile(`\s+(?:[A-Z]{2,4}T|UTC[+-]\d+)$`)
)
