// Package editor renders the checkpoint editor-brief prompt and parses
// its XML response. XML instead of JSON: long prose fields survive without
// quote-escaping fragility.
package editor

import (
	_ "embed"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

var userTemplate = template.Must(template.New("user").Parse(userPrompt))

const (
	Temperature = 0.7
	MaxTokens   = 4096
)

// ChapterSummary is one prior chapter's one-line recap for the brief.
type ChapterSummary struct {
	Number int
	Title  string
	Events string
}

// ProseSample is an opening excerpt from a recent chapter.
type ProseSample struct {
	Number int
	Text   string
}

// Data carries everything the editor prompt needs.
type Data struct {
	Title       string
	Premise     string
	AgeRange    string
	Checkpoint  int
	Adjustments []string
	Quotes      []string
	Summaries   []ChapterSummary
	Excerpts    []ProseSample
	Outlines    []story.ChapterOutline
}

// Adjustments maps raw feedback dimensions to the editorial direction the
// prompt carries. Neutral dimensions produce nothing.
func Adjustments(f story.Feedback) []string {
	var out []string
	switch f.Pacing {
	case story.PacingSlow:
		out = append(out, "Pacing reads slow to them. Accelerate: start scenes later, cut connective tissue, raise stakes sooner.")
	case story.PacingFast:
		out = append(out, "Pacing reads rushed to them. Let the big moments breathe: reaction beats, sensory grounding, space after turns.")
	}
	switch f.Tone {
	case story.ToneSerious:
		out = append(out, "They want a more serious tone. Trim the jokes; let consequences land and stay landed.")
	case story.ToneLight:
		out = append(out, "They want a lighter tone. Add warmth and levity between the tense scenes.")
	}
	switch f.Character {
	case story.CharacterNotClicking:
		out = append(out, "The characters aren't clicking for them. Deepen interiority: clearer wants, sharper flaws, more distinct voices.")
	case story.CharacterWarming:
		out = append(out, "They're warming to the characters. Keep building: pay off the traits already on the page.")
	}
	return out
}

// SystemPrompt returns the editor system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the editor request.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the editor conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}
