package pdf

import (
	"regexp"
	"strings"
	"unicode"
)

// civicVocabulary is a small set of words that appear in virtually every
// municipal agenda; extracted text where none of them show up early is almost
// always garbled.
var civicVocabulary = map[string]bool{
	"city": true, "council": true, "meeting": true, "agenda": true,
	"public": true, "item": true, "motion": true, "ordinance": true,
	"resolution": true, "board": true, "commission": true, "minutes": true,
	"hearing": true, "session": true, "county": true, "approval": true,
	"committee": true, "budget": true, "report": true, "staff": true,
	"call": true, "order": true, "adjournment": true, "roll": true,
	"the": true, "of": true, "and": true, "to": true, "a": true, "for": true,
}

// ValidateText rejects extracted text that is too short, too non-alphabetic,
// or showing the single-character-word pattern typical of failed PDF
// extraction.
func ValidateText(text string) bool {
	if len(text) < 100 {
		return false
	}

	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if float64(letters)/float64(len(text)) < 0.30 {
		return false
	}

	words := strings.Fields(text)
	if len(words) < 20 {
		return false
	}

	sample := words
	if len(sample) > 100 {
		sample = sample[:100]
	}
	vocabHits := 0
	singles := 0
	for _, w := range sample {
		w = strings.ToLower(strings.Trim(w, ".,;:()[]"))
		if civicVocabulary[w] {
			vocabHits++
		}
		if len(w) == 1 {
			singles++
		}
	}
	if vocabHits < 5 {
		return false
	}
	if singles > 20 {
		return false
	}
	return true
}

var (
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(` {2,}`)
)

// Normalize collapses whitespace runs and fixes the common OCR artifacts.
func Normalize(text string) string {
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, " | ", " I ")
	text = strings.ReplaceAll(text, "‚", ",")
	return text
}
