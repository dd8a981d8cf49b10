// Package arc builds the chapter-arc planning call: the bible in, twelve
// ordered chapter outlines out.
package arc

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

// Generation parameters for the arc call.
const (
	Temperature = 0.7
	MaxTokens   = 12288
)

// Data is the context rendered into the user prompt.
type Data struct {
	BibleJSON string
	AgeRange  string
}

// SystemPrompt returns the outliner system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the arc request for one story.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPromptTmpl, data)
}

// Messages assembles the chat turns for the arc call.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}
