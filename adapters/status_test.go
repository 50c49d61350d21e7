package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engagic/engagic/civic"
)

func TestParseMeetingStatus(t *testing.T) {
	tests := []struct {
		title string
		want  civic.MeetingStatus
	}{
		{"City Council Regular Meeting", ""},
		{"[CANCELLED] City Council Regular Meeting", civic.MeetingCancelled},
		{"City Council Meeting - Canceled", civic.MeetingCancelled},
		{"POSTPONED - Planning Commission", civic.MeetingPostponed},
		{"Board Meeting (Rescheduled)", civic.MeetingRescheduled},
		{"Council Agenda - REVISED", civic.MeetingRevised},
		{"Agenda Amendment No. 2", civic.MeetingRevised},
		{"Updated Agenda Posting", civic.MeetingRevised},
		// Cancellation outranks revision when both markers appear.
		{"REVISED: Special Meeting CANCELLED", civic.MeetingCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMeetingStatus(tt.title))
		})
	}
}
