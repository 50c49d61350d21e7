// Package pipeline ties PDF extraction, summarization, topic normalization
// and the processing cache together for a single meeting.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/engagic/engagic/civic"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}`)
	zoomPattern  = regexp.MustCompile(`https?://[a-zA-Z0-9.-]*zoom\.us/[^\s)>"']+`)
	teamsPattern = regexp.MustCompile(`https?://teams\.microsoft\.com/[^\s)>"']+`)
	dialPattern  = regexp.MustCompile(`(?i)(?:dial[-\s]?in|call[-\s]?in)[^\d(+]{0,20}(\+?1?[-.\s(]*\d{3}[-.\s)]*\d{3}[-.\s]*\d{4})`)
)

// ParseParticipation scans raw agenda text for remote-participation details.
// Returns nil when nothing was found.
func ParseParticipation(text string) *civic.Participation {
	// Only the head of the document; participation blocks live on page one.
	head := text
	if len(head) > 20_000 {
		head = head[:20_000]
	}

	var p civic.Participation
	if m := emailPattern.FindString(head); m != "" {
		p.Email = m
	}
	if m := zoomPattern.FindString(head); m != "" {
		p.ZoomURL = strings.TrimRight(m, ".,;")
	} else if m := teamsPattern.FindString(head); m != "" {
		p.ZoomURL = strings.TrimRight(m, ".,;")
	}
	if m := dialPattern.FindStringSubmatch(head); len(m) > 1 {
		p.DialIn = strings.TrimSpace(m[1])
	}
	if m := phonePattern.FindString(head); m != "" && p.DialIn == "" {
		p.Phone = strings.TrimSpace(m)
	}

	if p.IsZero() {
		return nil
	}
	return &p
}
