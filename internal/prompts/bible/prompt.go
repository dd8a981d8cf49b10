// Package bible builds the story-bible generation call: one call per story,
// producing the world/cast/stakes document every later stage reads.
package bible

import (
	_ "embed"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/providers"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

var userTemplate = template.Must(template.New("user").Parse(userPromptTmpl))

// Generation parameters for the bible call.
const (
	Temperature = 0.7
	MaxTokens   = 8192
)

// Data is the context rendered into the user prompt.
type Data struct {
	Premise          string
	Genre            string
	AgeRange         string
	ReaderName       string
	PreferencesBlock string
}

// SystemPrompt returns the story-architect system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the bible request for one story.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPromptTmpl, data)
}

// Messages assembles the chat turns for the bible call.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}
