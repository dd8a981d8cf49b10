package bible

import (
	"strings"
	"testing"

	"github.com/fablewright/fable/internal/story"
)

func TestParse(t *testing.T) {
	doc := map[string]any{
		"world_rules": []any{"iron repels the fog"},
		"protagonist": map[string]any{
			"name":                   "Mira",
			"internal_contradiction": "craves adventure, fears leaving",
			"false_belief":           "her mother left because of her",
			"voice_notes":            "short sentences, dry humor",
		},
		"antagonist": map[string]any{
			"name":                "The Warden",
			"sympathetic_element": "protects the town the only way he knows",
		},
		"supporting_characters": []any{
			map[string]any{"name": "Tam", "role": "best friend"},
		},
		"central_conflict": "the fog is swallowing the harbor",
		"stakes":           "the town disappears by winter",
		"themes":           []any{"belonging"},
		"key_locations":    []any{map[string]any{"name": "The Glass Harbor"}},
		"timeline":         "one autumn",
		"magic_system":     map[string]any{"cost": "memories"},
	}
	b, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Protagonist.Name != "Mira" {
		t.Errorf("protagonist = %q", b.Protagonist.Name)
	}
	if b.Protagonist.FalseBelief == "" {
		t.Error("false belief lost in parse")
	}
	if b.Antagonist.SympatheticElement == "" {
		t.Error("sympathetic element lost in parse")
	}
	// Unknown top-level keys survive the round trip.
	if _, ok := b.Extras["magic_system"]; !ok {
		t.Error("extras lost in parse")
	}
	names := b.CastNames()
	if len(names) != 3 {
		t.Errorf("cast names = %v", names)
	}
}

func TestRequiredFieldsMatchBible(t *testing.T) {
	got := RequiredFields()
	if len(got) != len(story.BibleFields) {
		t.Fatalf("RequiredFields = %v", got)
	}
	for i, f := range story.BibleFields {
		if got[i] != f {
			t.Errorf("field %d = %q, want %q", i, got[i], f)
		}
	}
}

func TestUserPrompt_Sections(t *testing.T) {
	data := Data{
		Premise:          "A lighthouse keeper's daughter finds a door in the fog.",
		Genre:            "fantasy",
		AgeRange:         "middle_grade",
		ReaderName:       "Noa",
		PreferencesBlock: "Loves sea monsters; wants a dog in the story.",
	}
	got := UserPrompt(data)
	for _, want := range []string{"door in the fog", "fantasy", "middle_grade", "Noa", "sea monsters"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	bare := UserPrompt(Data{Premise: "p", Genre: "g", AgeRange: "a"})
	if strings.Contains(bare, "sea monsters") {
		t.Error("preferences leaked into a bare prompt")
	}
}
