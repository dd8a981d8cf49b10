// Package chapter renders the prompts that draft a single chapter from
// the story bible, its arc outline and the running context of what has
// already been written.
package chapter

import (
	_ "embed"
	"fmt"
	"strings"
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
	// Temperature favors varied prose over deterministic output.
	Temperature = 0.8
	// MaxTokens leaves room for a full chapter plus metadata.
	MaxTokens = 16384
)

// PrevChapter is the continuity summary of an already-written chapter.
type PrevChapter struct {
	Number      int
	Title       string
	KeyEvents   string
	ClosingHook string
	TailExcerpt string
}

// Data carries everything the user prompt template needs.
type Data struct {
	ChapterNumber    int
	TotalChapters    int
	BibleJSON        string
	OutlineJSON      string
	PreviousChapters []PrevChapter
	EditorNotes      []string
	PreferencesBlock string
	LedgerBlock      string
	WordTarget       int
}

// SystemPrompt returns the chapter writer system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the user prompt for one chapter.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the initial conversation for a chapter draft.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}

// Correction builds the corrective user turn after a failed review. The
// prior draft rides along as the preceding assistant turn.
func Correction(review story.QualityReview, threshold float64) string {
	var b strings.Builder
	if review.WeightedScore > 0 {
		fmt.Fprintf(&b, "That draft scored %.1f, below the %.1f bar.", review.WeightedScore, threshold)
	} else {
		b.WriteString("That draft failed the prose check.")
	}
	if review.Summary != "" {
		b.WriteString(" ")
		b.WriteString(review.Summary)
	}
	b.WriteString("\n\nFix these issues:\n")
	for _, fix := range review.Fixes() {
		fmt.Fprintf(&b, "- %s\n", fix)
	}
	b.WriteString("\nRewrite the full chapter and return the same JSON object. Keep what worked; change what's listed.")
	return b.String()
}
