package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptRender(t *testing.T) {
	p := Prompt{Template: "Title: {title}\nBody: {text}"}
	got := p.Render(map[string]string{"title": "Council", "text": "agenda body"})
	assert.Equal(t, "Title: Council\nBody: agenda body", got)

	// Unknown placeholders pass through untouched.
	assert.Equal(t, "keep {unknown}", Prompt{Template: "keep {unknown}"}.Render(nil))
}

func TestDefaultPromptsValidate(t *testing.T) {
	ps := DefaultPrompts()
	require.NoError(t, ps.Validate())

	for _, variant := range []string{PromptShortAgenda, PromptComprehensive} {
		assert.Contains(t, ps.Meeting[variant].Template, "{text}", "variant %s", variant)
	}
	for _, variant := range []string{PromptItemStandard, PromptItemLarge} {
		p := ps.Item[variant]
		assert.Contains(t, p.Template, "{title}", "variant %s", variant)
		assert.Contains(t, p.Template, "{topics}", "variant %s", variant)
		assert.NotEmpty(t, p.ResponseSchema, "variant %s", variant)
	}
}

func TestParsePromptsRejectsIncompleteFiles(t *testing.T) {
	_, err := ParsePrompts([]byte(`{"meeting": {}, "item": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing meeting variant")

	_, err = ParsePrompts([]byte(`{
		"meeting": {"short_agenda": {"template": "{text}"}, "comprehensive": {"template": "{text}"}},
		"item": {"standard": {"template": "{text}"}, "large": {"template": "{text}"}}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response schema")

	_, err = ParsePrompts([]byte(`not json`))
	require.Error(t, err)
}

func TestLoadPromptsEmptyPathUsesDefaults(t *testing.T) {
	ps, err := LoadPrompts("")
	require.NoError(t, err)
	require.NoError(t, ps.Validate())
}
