// Package topics maps free-text topic strings onto the fixed canonical
// taxonomy used everywhere downstream.
package topics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Other is the bucket for inputs that match nothing in the taxonomy.
const Other = "other"

// Entry is one taxonomy member.
type Entry struct {
	Canonical   string   `json:"canonical"`
	DisplayName string   `json:"display_name"`
	Synonyms    []string `json:"synonyms"`
}

// taxonomyFile is the on-disk shape.
type taxonomyFile struct {
	Taxonomy       map[string]Entry `json:"taxonomy"`
	PromptExamples []string         `json:"prompt_examples"`
}

// synonym pairs a compiled word-boundary pattern with its canonical target.
type synonym struct {
	text      string
	canonical string
	pattern   *regexp.Regexp
}

// Normalizer maps raw topic strings to canonical ones. Safe for concurrent
// use; the unknown-topics sink serializes appends internally.
type Normalizer struct {
	direct    map[string]string // lowercased synonym -> canonical
	synonyms  []synonym         // ordered containment patterns
	canonical map[string]bool
	examples  []string
	logger    *slog.Logger

	unknownPath string
	unknownMu   sync.Mutex
}

// Load reads the taxonomy JSON and builds the matcher. unknownPath, when
// non-empty, receives one tab-separated line per unmatched input.
func Load(taxonomyPath, unknownPath string, logger *slog.Logger) (*Normalizer, error) {
	data, err := os.ReadFile(taxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	return Parse(data, unknownPath, logger)
}

// Parse builds a Normalizer from raw taxonomy JSON.
func Parse(data []byte, unknownPath string, logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var file taxonomyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(file.Taxonomy) == 0 {
		return nil, fmt.Errorf("taxonomy is empty")
	}

	n := &Normalizer{
		direct:      make(map[string]string),
		canonical:   map[string]bool{Other: true},
		examples:    file.PromptExamples,
		logger:      logger,
		unknownPath: unknownPath,
	}

	// Deterministic synonym order regardless of map iteration.
	keys := make([]string, 0, len(file.Taxonomy))
	for k := range file.Taxonomy {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := file.Taxonomy[key]
		canonical := entry.Canonical
		if canonical == "" {
			canonical = key
		}
		n.canonical[canonical] = true
		// Each canonical maps to itself.
		n.addSynonym(canonical, canonical)
		for _, syn := range entry.Synonyms {
			n.addSynonym(syn, canonical)
		}
	}
	return n, nil
}

func (n *Normalizer) addSynonym(text, canonical string) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return
	}
	if _, exists := n.direct[text]; !exists {
		n.direct[text] = canonical
	}
	// Word-boundary containment: "park" must never match "parking".
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(text) + `\b`)
	if err != nil {
		n.logger.Warn("failed to compile synonym pattern", "synonym", text, "error", err)
		return
	}
	n.synonyms = append(n.synonyms, synonym{text: text, canonical: canonical, pattern: pattern})
}

// Normalize maps each input to a canonical topic: direct hit, then first
// whole-word synonym containment, else the unknown sink. The result is the
// sorted deduplicated canonical list.
func (n *Normalizer) Normalize(raw []string) []string {
	seen := make(map[string]bool)
	for _, input := range raw {
		input = strings.ToLower(strings.TrimSpace(input))
		if input == "" {
			continue
		}

		if canonical, ok := n.direct[input]; ok {
			seen[canonical] = true
			continue
		}

		matched := false
		for _, syn := range n.synonyms {
			if syn.pattern.MatchString(input) {
				seen[syn.canonical] = true
				matched = true
				break
			}
		}
		if !matched {
			n.logUnknown(input)
		}
	}

	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// IsCanonical reports whether a topic is a taxonomy member.
func (n *Normalizer) IsCanonical(topic string) bool {
	return n.canonical[strings.ToLower(strings.TrimSpace(topic))]
}

// CanonicalList returns the sorted taxonomy members.
func (n *Normalizer) CanonicalList() []string {
	out := make([]string, 0, len(n.canonical))
	for topic := range n.canonical {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// PromptExamples returns the example topics the prompts embed.
func (n *Normalizer) PromptExamples() []string { return n.examples }

// logUnknown appends "timestamp \t topic" to the unknown-topics sink for
// operator review.
func (n *Normalizer) logUnknown(topic string) {
	n.logger.Info("unknown topic", "topic", topic)
	if n.unknownPath == "" {
		return
	}
	n.unknownMu.Lock()
	defer n.unknownMu.Unlock()

	f, err := os.OpenFile(n.unknownPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		n.logger.Warn("failed to open unknown topics log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t%s\n", time.Now().UTC().Format(time.RFC3339), topic)
}
