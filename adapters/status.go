package adapters

import (
	"strings"

	"github.com/engagic/engagic/civic"
)

// statusKeywords is scanned in priority order: a cancelled meeting that was
// also revised reports cancelled.
var statusKeywords = []struct {
	keywords []string
	status   civic.MeetingStatus
}{
	{[]string{"CANCEL"}, civic.MeetingCancelled},
	{[]string{"POSTPONE"}, civic.MeetingPostponed},
	{[]string{"RESCHEDULE"}, civic.MeetingRescheduled},
	{[]string{"REVISED", "AMENDMENT", "UPDATED"}, civic.MeetingRevised},
}

// ParseMeetingStatus scans a title for vendor status markers like
// "[CANCELLED]" or "POSTPONED -". Empty when nothing matches.
func ParseMeetingStatus(title string) civic.MeetingStatus {
	upper := strings.ToUpper(title)
	for _, entry := range statusKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(upper, kw) {
				return entry.status
			}
		}
	}
	return ""
}
