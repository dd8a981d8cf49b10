package story

import "testing"

func TestFeedbackNeutral(t *testing.T) {
	tests := []struct {
		name string
		fb   Feedback
		want bool
	}{
		{"all neutral", Feedback{Pacing: PacingHooked, Tone: ToneRight, Character: CharacterLove}, true},
		{"all unset", Feedback{}, true},
		{"pacing slow", Feedback{Pacing: PacingSlow, Tone: ToneRight, Character: CharacterLove}, false},
		{"tone serious", Feedback{Tone: ToneSerious}, false},
		{"character not clicking", Feedback{Character: CharacterNotClicking}, false},
	}
	for _, tt := range tests {
		if got := tt.fb.Neutral(); got != tt.want {
			t.Errorf("%s: Neutral() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRevisedOutlineOverlay(t *testing.T) {
	base := ChapterOutline{
		Number:       5,
		Title:        "The Long Walk",
		Events:       "mira crosses the marsh",
		EmotionalArc: "dread to resolve",
		Hook:         "a light in the reeds",
	}
	rev := RevisedOutline{
		Chapter:     5,
		Events:      "mira crosses the marsh; tobin falls behind",
		Hook:        "the light goes out",
		EditorNotes: []string{"reader found the pacing slow", "add a mid-chapter complication"},
	}

	out := rev.Overlay(base)
	if out.Title != "The Long Walk" {
		t.Errorf("empty revision field overwrote title: %q", out.Title)
	}
	if out.Events != "mira crosses the marsh; tobin falls behind" {
		t.Errorf("events not replaced: %q", out.Events)
	}
	if out.Hook != "the light goes out" {
		t.Errorf("hook = %q", out.Hook)
	}
	if out.EmotionalArc != "dread to resolve" {
		t.Errorf("emotional arc overwritten: %q", out.EmotionalArc)
	}
	if out.Number != 5 {
		t.Errorf("number = %d", out.Number)
	}
}

func TestEditorBriefOutlineFor(t *testing.T) {
	var nilBrief *EditorBrief
	if ro := nilBrief.OutlineFor(4); ro != nil {
		t.Error("nil brief returned an outline")
	}

	brief := &EditorBrief{RevisedOutlines: map[int]RevisedOutline{
		4: {Chapter: 4, Hook: "new hook"},
	}}
	if ro := brief.OutlineFor(5); ro != nil {
		t.Error("missing chapter returned an outline")
	}
	ro := brief.OutlineFor(4)
	if ro == nil || ro.Hook != "new hook" {
		t.Errorf("OutlineFor(4) = %+v", ro)
	}
}
