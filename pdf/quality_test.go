package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const goodAgenda = `City Council Regular Meeting Agenda
Call to Order and Roll Call
Public Comment Period
Item 1: Motion to approve the minutes of the prior session of the council
Item 2: Ordinance amending the city budget for the fiscal year, staff report attached
Item 3: Resolution of the commission regarding the public hearing on the county annexation
Adjournment of the meeting and approval of the next agenda by the board committee`

func TestValidateText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"real agenda passes", goodAgenda, true},
		{"empty", "", false},
		{"too short", "City Council Meeting Agenda", false},
		{
			"too few letters",
			strings.Repeat("1 2 3 4 5 6 7 8 9 0 . , ; : ", 20),
			false,
		},
		{
			"no civic vocabulary",
			strings.Repeat("quantum flux resonance cascade entropy vector matrix syntax kernel ", 10),
			false,
		},
		{
			"single character word soup",
			"city council meeting agenda public " + strings.Repeat("a b c d e f g h i j ", 10),
			false,
		},
		{
			"long run of whitespace only",
			strings.Repeat(" \n\t", 100),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateText(tt.text))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses newline runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"keeps paragraph breaks", "a\n\nb", "a\n\nb"},
		{"collapses space runs", "a     b", "a b"},
		{"pipe misread as I", "Section | of the code", "Section I of the code"},
		{"low comma artifact", "items‚ motions‚ votes", "items, motions, votes"},
		{"untouched text passes through", "Call to Order\nRoll Call", "Call to Order\nRoll Call"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
