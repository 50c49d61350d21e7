package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Routing thresholds. Page counts are estimated from character length.
const (
	charsPerPage     = 2000
	liteCharLimit    = 200_000
	litePageLimit    = 50
	shortAgendaPages = 30
	largeItemPages   = 100
	noThinkingPages  = 10
	noThinkingChars  = 30_000
	modThinkingPages = 50
	modThinkingChars = 150_000
	moderateBudget   = 2048
	dynamicBudget    = -1
	maxSummaryTokens = 65_536
)

// EstimatePages approximates page count from raw text length.
func EstimatePages(chars int) int {
	pages := chars / charsPerPage
	if pages < 1 {
		return 1
	}
	return pages
}

// SelectModel picks the model tier for a document.
func SelectModel(chars, pages int) string {
	if chars < liteCharLimit && pages <= litePageLimit {
		return ModelLite
	}
	return ModelFlagship
}

// thinkingConfig returns the thinking budget tier for a document, or nil for
// the provider default.
func thinkingConfig(model string, chars, pages int) *ThinkingConfig {
	switch {
	case pages <= noThinkingPages && chars <= noThinkingChars:
		return &ThinkingConfig{ThinkingBudget: 0}
	case pages <= modThinkingPages && chars <= modThinkingChars:
		if model == ModelLite {
			return &ThinkingConfig{ThinkingBudget: moderateBudget}
		}
		return nil
	default:
		return &ThinkingConfig{ThinkingBudget: dynamicBudget}
	}
}

// TopicChecker validates topic strings against the canonical taxonomy.
type TopicChecker interface {
	IsCanonical(topic string) bool
	PromptExamples() []string
}

// Summarizer routes agenda text to the right model, prompt, and thinking
// budget, and parses constrained item output.
type Summarizer struct {
	client  *Client
	prompts *PromptSet
	topics  TopicChecker
	logger  *slog.Logger

	// batch pacing knobs, overridable in tests
	pollInterval    time.Duration
	pollTimeout     time.Duration
	interChunkSleep time.Duration
	quotaBackoffs   []time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewSummarizer wires the summarizer. topics may be nil, in which case all
// model-returned topics are kept as-is.
func NewSummarizer(client *Client, prompts *PromptSet, topics TopicChecker, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Summarizer{
		client:          client,
		prompts:         prompts,
		topics:          topics,
		logger:          logger,
		pollInterval:    defaultPollInterval,
		pollTimeout:     defaultPollTimeout,
		interChunkSleep: defaultInterChunkSleep,
		quotaBackoffs:   defaultQuotaBackoffs(),
		sleep:           sleepCtx,
	}
}

// Available reports whether the underlying client has credentials.
func (s *Summarizer) Available() bool { return s.client.Available() }

// SummarizeMeeting summarizes whole-agenda text. The returned method string
// records which model produced the summary.
func (s *Summarizer) SummarizeMeeting(ctx context.Context, text string) (summary, method string, err error) {
	chars := len(text)
	pages := EstimatePages(chars)
	model := SelectModel(chars, pages)

	variant := PromptShortAgenda
	if pages > shortAgendaPages {
		variant = PromptComprehensive
	}
	prompt := s.prompts.Meeting[variant].Render(map[string]string{"text": text})

	req := &GenerateRequest{
		Contents: UserPrompt(prompt),
		GenerationConfig: &GenerationConfig{
			MaxOutputTokens: maxSummaryTokens,
			ThinkingConfig:  thinkingConfig(model, chars, pages),
		},
	}

	s.logger.Info("summarizing meeting",
		"model", model, "prompt", variant, "chars", chars, "pages", pages)

	resp, err := s.client.GenerateContent(ctx, model, req)
	if err != nil {
		return "", "", fmt.Errorf("failed to summarize meeting: %w", err)
	}
	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", "", fmt.Errorf("empty summary from model (finish reason %q)", resp.FinishReason())
	}
	return out, model, nil
}

// ItemRequest is one agenda-item summarization input.
type ItemRequest struct {
	ItemID string
	Title  string
	Text   string
}

// ItemResult pairs an item with its parsed summary or failure.
type ItemResult struct {
	ItemID  string
	Summary ItemSummary
	Err     error
}

// ItemSummary is the parsed JSON-constrained item output.
type ItemSummary struct {
	Thinking      string   `json:"thinking"`
	SummaryMD     string   `json:"summary_markdown"`
	CitizenImpact string   `json:"citizen_impact_markdown"`
	Topics        []string `json:"topics"`
	Confidence    string   `json:"confidence"`
}

// Markdown assembles the stored summary document.
func (is ItemSummary) Markdown() string {
	var b strings.Builder
	b.WriteString("## Thinking\n\n")
	b.WriteString(strings.TrimSpace(is.Thinking))
	b.WriteString("\n\n## Summary\n\n")
	b.WriteString(strings.TrimSpace(is.SummaryMD))
	b.WriteString("\n\n## Citizen Impact\n\n")
	b.WriteString(strings.TrimSpace(is.CitizenImpact))
	b.WriteString("\n\n## Confidence\n\n")
	b.WriteString(strings.TrimSpace(is.Confidence))
	b.WriteString("\n")
	return b.String()
}

// itemGenerateRequest builds the model/request pair for one item.
func (s *Summarizer) itemGenerateRequest(r ItemRequest) (string, *GenerateRequest) {
	chars := len(r.Text)
	pages := EstimatePages(chars)

	variant := PromptItemStandard
	model := SelectModel(chars, pages)
	if pages >= largeItemPages {
		variant = PromptItemLarge
		model = ModelFlagship
	}

	examples := "housing, zoning, budget, transportation, public safety"
	if s.topics != nil {
		examples = strings.Join(s.topics.PromptExamples(), ", ")
	}

	p := s.prompts.Item[variant]
	prompt := p.Render(map[string]string{
		"title":  r.Title,
		"text":   r.Text,
		"topics": examples,
	})

	return model, &GenerateRequest{
		Contents: UserPrompt(prompt),
		GenerationConfig: &GenerationConfig{
			MaxOutputTokens:  maxSummaryTokens,
			ResponseMIMEType: "application/json",
			ResponseSchema:   p.ResponseSchema,
			ThinkingConfig:   thinkingConfig(model, chars, pages),
		},
	}
}

// SummarizeItem summarizes one item synchronously.
func (s *Summarizer) SummarizeItem(ctx context.Context, r ItemRequest) (ItemSummary, error) {
	model, req := s.itemGenerateRequest(r)
	resp, err := s.client.GenerateContent(ctx, model, req)
	if err != nil {
		return ItemSummary{}, fmt.Errorf("failed to summarize item %s: %w", r.ItemID, err)
	}
	return s.parseItemResponse(resp)
}

// parseItemResponse validates the constrained JSON and normalizes topics.
func (s *Summarizer) parseItemResponse(resp *GenerateResponse) (ItemSummary, error) {
	if resp.FinishReason() == "MAX_TOKENS" {
		return ItemSummary{}, fmt.Errorf("response truncated at token limit")
	}
	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		return ItemSummary{}, fmt.Errorf("empty response from model")
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		s.logger.Warn("unparseable item response", "raw", truncate(raw, 500))
		return ItemSummary{}, fmt.Errorf("failed to parse item response: %w", err)
	}
	for _, k := range []string{"thinking", "summary_markdown", "citizen_impact_markdown", "topics", "confidence"} {
		if _, ok := keys[k]; !ok {
			return ItemSummary{}, fmt.Errorf("item response missing key %q", k)
		}
	}

	var out ItemSummary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ItemSummary{}, fmt.Errorf("failed to parse item response: %w", err)
	}
	out.Topics = s.filterTopics(out.Topics)
	return out, nil
}

// filterTopics drops topics outside the canonical taxonomy; when none
// survive, substitutes "other".
func (s *Summarizer) filterTopics(raw []string) []string {
	if s.topics == nil {
		return raw
	}
	seen := make(map[string]bool)
	var kept []string
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !s.topics.IsCanonical(t) {
			s.logger.Warn("model returned non-canonical topic", "topic", t)
			continue
		}
		if !seen[t] {
			seen[t] = true
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return []string{"other"}
	}
	sort.Strings(kept)
	return kept
}
