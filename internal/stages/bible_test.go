package stages

import (
	"errors"
	"strings"
	"testing"

	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

func TestBible_GeneratesAndPersists(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st := seedStory(t, ms)
	caller.push(story.KindBible, bibleResponse(t))

	if err := s.Bible(t.Context(), st); err != nil {
		t.Fatalf("Bible: %v", err)
	}

	rec, err := ms.LoadBible(t.Context(), st.ID)
	if err != nil {
		t.Fatalf("LoadBible: %v", err)
	}
	if rec.Content.Protagonist.Name != "Mira" {
		t.Errorf("protagonist = %q", rec.Content.Protagonist.Name)
	}
	if rec.Model != "test-model" {
		t.Errorf("model = %q", rec.Model)
	}

	reloaded, err := ms.LoadStory(t.Context(), st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Progress.BibleComplete {
		t.Error("bible_complete not set")
	}
	if reloaded.Progress.CurrentStep != story.StepBibleCreated {
		t.Errorf("step = %q, want %q", reloaded.Progress.CurrentStep, story.StepBibleCreated)
	}
	if reloaded.Progress.ChaptersGenerated != 0 {
		t.Errorf("chapters_generated = %d, want 0", reloaded.Progress.ChaptersGenerated)
	}

	calls := caller.callsOf(story.KindBible)
	if len(calls) != 1 {
		t.Fatalf("bible calls = %d, want 1", len(calls))
	}
	if calls[0].opts.StoryID != st.ID {
		t.Errorf("cost attribution story = %q", calls[0].opts.StoryID)
	}
	if calls[0].opts.ResponseFormat == nil {
		t.Error("bible call should request structured output")
	}
}

func TestBible_IdempotentWhenBibleExists(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st := seedStory(t, ms)
	seedBible(t, s, caller, st)
	before := caller.total()

	if err := s.Bible(t.Context(), st); err != nil {
		t.Fatalf("Bible rerun: %v", err)
	}
	if caller.total() != before {
		t.Errorf("rerun made %d extra model calls", caller.total()-before)
	}
}

func TestBible_CorrectsProgressWhenRowExistsButFlagBehind(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st := seedStory(t, ms)
	seedBible(t, s, caller, st)

	// Simulate a crash between the insert and the progress write.
	ms.SetProgressDirect(st.ID, story.Progress{
		CurrentStep: story.StepGeneratingBible,
	})

	if err := s.Bible(t.Context(), st); err != nil {
		t.Fatalf("Bible: %v", err)
	}
	reloaded, _ := ms.LoadStory(t.Context(), st.ID)
	if !reloaded.Progress.BibleComplete {
		t.Error("progress not corrected")
	}
	if reloaded.Progress.CurrentStep != story.StepBibleCreated {
		t.Errorf("step = %q", reloaded.Progress.CurrentStep)
	}
}

func TestBible_BadShapeFails(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st := seedStory(t, ms)
	caller.push(story.KindBible, `{"world_rules": ["only this"]}`)

	if err := s.Bible(t.Context(), st); err == nil {
		t.Fatal("Bible should fail on a response missing required fields")
	}
	if _, err := ms.LoadBible(t.Context(), st.ID); err == nil {
		t.Error("no bible should persist on a bad response")
	}
}

func TestBible_ModelFailurePropagates(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st := seedStory(t, ms)
	boom := errors.New("model exploded")
	caller.failWith(story.KindBible, boom)

	if err := s.Bible(t.Context(), st); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped model error", err)
	}
	if _, err := ms.LoadBible(t.Context(), st.ID); err == nil {
		t.Error("no bible should persist on model failure")
	}
}

func TestBible_PromptCarriesPreferencesAndReader(t *testing.T) {
	caller := newFakeCaller()
	s, ms := newTestStages(t, caller, testSettings())
	st, err := ms.CreateStory(t.Context(), store.StoryDraft{
		Owner:     "user-1",
		OwnerName: "Noa",
		Title:     "The Glass Harbor",
		Genre:     "fantasy",
		Premise:   "A lighthouse keeper's daughter finds a door in the fog.",
		AgeRange:  "middle_grade",
		Preferences: story.Preferences{
			BelovedTitles: []string{"The Hobbit"},
			Request:       "please include a dog",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ms.SetTitle(t.Context(), st.ID, st.Title, true); err != nil {
		t.Fatal(err)
	}
	st, err = ms.LoadStory(t.Context(), st.ID)
	if err != nil {
		t.Fatal(err)
	}
	caller.push(story.KindBible, bibleResponse(t))

	if err := s.Bible(t.Context(), st); err != nil {
		t.Fatalf("Bible: %v", err)
	}

	calls := caller.callsOf(story.KindBible)
	prompt := calls[0].messages[1].Content
	for _, want := range []string{"The Hobbit", "please include a dog", "Noa"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
