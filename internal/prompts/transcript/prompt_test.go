package transcript

import (
	"testing"

	"github.com/fablewright/fable/internal/story"
)

func TestParse(t *testing.T) {
	doc := map[string]any{
		"pacing":    story.PacingSlow,
		"tone":      story.ToneRight,
		"character": story.CharacterWarming,
		"quotes":    []any{"the fog tasted like pennies"},
	}
	d, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Pacing != story.PacingSlow {
		t.Errorf("pacing = %q", d.Pacing)
	}
	if len(d.Quotes) != 1 {
		t.Errorf("quotes = %v", d.Quotes)
	}
}

func TestParse_MissingDimension(t *testing.T) {
	doc := map[string]any{
		"pacing": story.PacingHooked,
		"tone":   story.ToneRight,
	}
	if _, err := Parse(doc); err == nil {
		t.Error("Parse should fail when a dimension is missing")
	}
}
