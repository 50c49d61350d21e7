package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageLinks(t *testing.T) {
	text := `Join the meeting at https://zoom.us/j/123456789.
Supporting documents: https://city.legistar.com/View.ashx?M=A&ID=42 and
the budget dashboard (https://city.gov/budget).
Repeated: https://zoom.us/j/123456789`

	links := pageLinks(3, text)
	require.Len(t, links, 3, "duplicates on a page collapse")

	urls := make([]string, len(links))
	for i, l := range links {
		assert.Equal(t, 3, l.Page)
		urls[i] = l.URL
	}
	assert.Equal(t, []string{
		"https://zoom.us/j/123456789",
		"https://city.legistar.com/View.ashx?M=A&ID=42",
		"https://city.gov/budget",
	}, urls, "trailing punctuation and closing parens are trimmed")
}

func TestPageLinksNone(t *testing.T) {
	assert.Empty(t, pageLinks(1, "Call to order. Roll call. Adjournment."))
}
