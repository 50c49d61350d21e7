package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Prompt variant names.
const (
	PromptShortAgenda   = "short_agenda"
	PromptComprehensive = "comprehensive"
	PromptItemStandard  = "standard"
	PromptItemLarge     = "large"
)

// Prompt is one template plus, for item prompts, the JSON schema the model
// output must satisfy.
type Prompt struct {
	Template       string          `json:"template"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
}

// Render substitutes {name} placeholders with the given values.
func (p Prompt) Render(vars map[string]string) string {
	out := p.Template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// PromptSet is the v2 prompt file: meeting-level and item-level variants.
type PromptSet struct {
	Meeting map[string]Prompt `json:"meeting"`
	Item    map[string]Prompt `json:"item"`
}

// Validate checks that the variants the router selects all exist and that
// item prompts carry a response schema.
func (ps *PromptSet) Validate() error {
	for _, name := range []string{PromptShortAgenda, PromptComprehensive} {
		if _, ok := ps.Meeting[name]; !ok {
			return fmt.Errorf("prompt file missing meeting variant %q", name)
		}
	}
	for _, name := range []string{PromptItemStandard, PromptItemLarge} {
		p, ok := ps.Item[name]
		if !ok {
			return fmt.Errorf("prompt file missing item variant %q", name)
		}
		if len(p.ResponseSchema) == 0 {
			return fmt.Errorf("item variant %q has no response schema", name)
		}
	}
	return nil
}

// LoadPrompts reads a prompt file from disk. An empty path returns the
// built-in defaults.
func LoadPrompts(path string) (*PromptSet, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

// ParsePrompts decodes and validates a prompt file.
func ParsePrompts(data []byte) (*PromptSet, error) {
	var ps PromptSet
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return &ps, nil
}

// itemResponseSchema constrains item summarization output to the exact keys
// the parser requires.
const itemResponseSchema = `{
  "type": "object",
  "properties": {
    "thinking": {"type": "string"},
    "summary_markdown": {"type": "string"},
    "citizen_impact_markdown": {"type": "string"},
    "topics": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "string"}
  },
  "required": ["thinking", "summary_markdown", "citizen_impact_markdown", "topics", "confidence"]
}`

const shortAgendaTemplate = `You are summarizing a municipal meeting agenda for residents who want to know what their local government is doing.

Write a concise markdown summary of this agenda. Lead with the items most likely to affect residents directly (votes, hearings, spending, zoning). Use plain language. Do not invent details that are not in the text.

AGENDA TEXT:
{text}`

const comprehensiveTemplate = `You are summarizing a long municipal meeting agenda packet for residents.

Produce a structured markdown summary:
- Start with a short overview paragraph.
- Then cover each significant agenda section with a heading and 1-3 sentences.
- Call out public hearings, votes, contracts, and budget items explicitly.
- Use plain language and keep the whole summary under 1500 words.
- Do not invent details that are not in the text.

AGENDA TEXT:
{text}`

const itemStandardTemplate = `You are analyzing a single municipal agenda item for residents.

ITEM TITLE: {title}

ATTACHMENT TEXT:
{text}

Respond with JSON containing:
- "thinking": your brief reasoning about what this item actually does
- "summary_markdown": a plain-language markdown summary of the item
- "citizen_impact_markdown": how this concretely affects residents
- "topics": a list of topic keywords drawn from: {topics}
- "confidence": "high", "medium", or "low" based on how complete the source text is`

const itemLargeTemplate = `You are analyzing a large municipal agenda item with extensive attachments for residents. Focus on the substance; skip boilerplate, certifications, and signature pages.

ITEM TITLE: {title}

ATTACHMENT TEXT:
{text}

Respond with JSON containing:
- "thinking": your brief reasoning about what this item actually does
- "summary_markdown": a plain-language markdown summary of the item
- "citizen_impact_markdown": how this concretely affects residents
- "topics": a list of topic keywords drawn from: {topics}
- "confidence": "high", "medium", or "low" based on how complete the source text is`

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() *PromptSet {
	schema := json.RawMessage(itemResponseSchema)
	return &PromptSet{
		Meeting: map[string]Prompt{
			PromptShortAgenda:   {Template: shortAgendaTemplate},
			PromptComprehensive: {Template: comprehensiveTemplate},
		},
		Item: map[string]Prompt{
			PromptItemStandard: {Template: itemStandardTemplate, ResponseSchema: schema},
			PromptItemLarge:    {Template: itemLargeTemplate, ResponseSchema: schema},
		},
	}
}
