// Package review renders the rubric-review prompts and parses the scored
// result into a story.QualityReview.
package review

import (
	_ "embed"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/providers"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

var userTemplate = template.Must(template.New("user").Parse(userPrompt))

const (
	// Temperature stays low so scores are reproducible.
	Temperature = 0.2
	MaxTokens   = 4096
)

// Data carries the chapter under review.
type Data struct {
	ChapterNumber   int
	Title           string
	AgeRange        string
	OutlineJSON     string
	Content         string
	ProseViolations []string
}

// SystemPrompt returns the reviewer system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the review request for one chapter.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the review conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}
