// Package cover builds the image-generation prompt for a story's cover.
// No chat call is involved; the rendered text goes straight to the image
// provider.
package cover

import (
	_ "embed"
	"strings"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/story"
)

//go:embed cover.tmpl
var coverPrompt string

var coverTemplate = template.Must(template.New("cover").Parse(coverPrompt))

// Data carries the story facts the cover prompt uses.
type Data struct {
	Title       string
	Genre       string
	AgeRange    string
	Protagonist string
	Setting     string
}

// FromStory assembles prompt data from the story row and, when present, the
// bible's protagonist and world detail.
func FromStory(st *story.Story, bible *story.Bible) Data {
	d := Data{
		Title:    st.Title,
		Genre:    st.Genre,
		AgeRange: st.AgeRange,
	}
	if d.Title == "" {
		d.Title = st.Premise
	}
	if bible != nil {
		d.Protagonist = protagonistLine(bible)
		if len(bible.KeyLocations) > 0 {
			loc := bible.KeyLocations[0]
			d.Setting = loc.Name
			if loc.Description != "" {
				d.Setting = loc.Name + ", " + loc.Description
			}
		}
	}
	return d
}

func protagonistLine(b *story.Bible) string {
	p := b.Protagonist
	parts := make([]string, 0, 2)
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, ", ")
}

// Prompt renders the image prompt text.
func Prompt(data Data) string {
	return strings.TrimSpace(prompts.Render(coverTemplate, coverPrompt, data))
}
