package civic

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold decomposes accented characters and strips the combining marks,
// so "Doña Ana" folds to "Dona Ana" before slugging.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// GenerateBanana derives the canonical city identifier:
// lowercase alphanumerics of the name followed by the uppercased state.
// Deterministic for a given (name, state) pair.
func GenerateBanana(name, state string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded) + 2)
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	b.WriteString(strings.ToUpper(strings.TrimSpace(state)))
	return b.String()
}

// NormalizeCityName lowercases and strips spaces for name+state lookups.
func NormalizeCityName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}
