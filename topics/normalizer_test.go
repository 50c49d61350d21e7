package topics

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTaxonomy = `{
	"taxonomy": {
		"housing": {
			"canonical": "housing",
			"display_name": "Housing",
			"synonyms": ["affordable housing", "rent control", "adu"]
		},
		"parks": {
			"canonical": "parks",
			"display_name": "Parks & Recreation",
			"synonyms": ["park", "recreation", "trails"]
		},
		"transportation": {
			"canonical": "transportation",
			"display_name": "Transportation",
			"synonyms": ["transit", "parking", "bike lanes"]
		}
	},
	"prompt_examples": ["housing", "parks", "transportation"]
}`

func newTestNormalizer(t *testing.T, unknownPath string) *Normalizer {
	t.Helper()
	n, err := Parse([]byte(testTaxonomy), unknownPath, slog.Default())
	require.NoError(t, err)
	return n
}

func TestNormalizeDirectAndSynonym(t *testing.T) {
	n := newTestNormalizer(t, "")

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"canonical passes through", []string{"housing"}, []string{"housing"}},
		{"direct synonym", []string{"rent control"}, []string{"housing"}},
		{"case and whitespace folded", []string{"  Affordable Housing  "}, []string{"housing"}},
		{"containment match", []string{"downtown parking study"}, []string{"transportation"}},
		{"sorted dedupe", []string{"transit", "housing", "adu"}, []string{"housing", "transportation"}},
		{"empty strings skipped", []string{"", "  "}, []string{}},
		{"unknown dropped", []string{"cryptozoology"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalizeWordBoundaries(t *testing.T) {
	n := newTestNormalizer(t, "")

	// "parking" is a transportation synonym; it must not fall out of
	// containment as "park".
	assert.Equal(t, []string{"transportation"}, n.Normalize([]string{"parking"}))
	assert.Equal(t, []string{"parks"}, n.Normalize([]string{"central park improvements"}))
	// "parkinglot" contains neither word on a boundary.
	assert.Empty(t, n.Normalize([]string{"parkinglot"}))
}

func TestNormalizeIdempotent(t *testing.T) {
	n := newTestNormalizer(t, "")

	once := n.Normalize([]string{"rent control", "transit", "park"})
	twice := n.Normalize(once)
	assert.Equal(t, once, twice)
}

func TestUnknownTopicsSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unknown.log")
	n := newTestNormalizer(t, path)

	n.Normalize([]string{"ufo sightings", "housing"})
	n.Normalize([]string{"ufo sightings"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		require.Len(t, parts, 2)
		assert.Equal(t, "ufo sightings", parts[1])
	}
}

func TestIsCanonical(t *testing.T) {
	n := newTestNormalizer(t, "")

	assert.True(t, n.IsCanonical("housing"))
	assert.True(t, n.IsCanonical(" Parks "))
	assert.True(t, n.IsCanonical("other"), "the fallback bucket is always canonical")
	assert.False(t, n.IsCanonical("rent control"), "synonyms are not canonical")
	assert.False(t, n.IsCanonical("plumbing"))
}

func TestCanonicalListAndExamples(t *testing.T) {
	n := newTestNormalizer(t, "")

	assert.Equal(t, []string{"housing", "other", "parks", "transportation"}, n.CanonicalList())
	assert.Equal(t, []string{"housing", "parks", "transportation"}, n.PromptExamples())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not json"), "", nil)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"taxonomy": {}}`), "", nil)
	assert.ErrorContains(t, err, "empty")
}

func TestDefaultTaxonomy(t *testing.T) {
	n, err := Default("", slog.Default())
	require.NoError(t, err)

	list := n.CanonicalList()
	assert.Contains(t, list, "housing")
	assert.Contains(t, list, "budget")
	assert.Contains(t, list, "other")
	assert.NotEmpty(t, n.PromptExamples())
}
