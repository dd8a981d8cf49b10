package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fablewright/fable/internal/story"
)

// inputToDoc simulates a document coming back from the store: JSON numbers
// decode as float64, and _docID is attached.
func inputToDoc(t *testing.T, input map[string]any, docID string) map[string]any {
	t.Helper()
	b, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	doc["_docID"] = docID
	return doc
}

func TestStoryDocRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	ledgerOn := true
	st := &story.Story{
		Owner:      "user-1",
		Title:      "The Door Below",
		Genre:      "mystery",
		PremiseRef: "premise-abc",
		Preferences: story.Preferences{
			Genres:       []string{"mystery", "adventure"},
			ReadingLevel: "middle_grade",
		},
		Flags:  story.FeatureFlags{CharacterLedger: &ledgerOn},
		Status: story.StatusActive,
		Progress: story.Progress{
			BibleComplete:     true,
			ChaptersGenerated: 3,
			CurrentStep:       story.StepAwaitingFeedback(2),
			ErrorLogs:         []string{"10:01:02 [bible] transient blip"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	input, err := storyToInput(st)
	if err != nil {
		t.Fatalf("storyToInput() error = %v", err)
	}
	got := parseStory(inputToDoc(t, input, "bae-story-1"))

	if got.ID != "bae-story-1" {
		t.Errorf("ID = %q, want bae-story-1", got.ID)
	}
	if got.Progress.CurrentStep != st.Progress.CurrentStep {
		t.Errorf("CurrentStep = %q, want %q", got.Progress.CurrentStep, st.Progress.CurrentStep)
	}
	if got.Progress.ChaptersGenerated != 3 || !got.Progress.BibleComplete {
		t.Errorf("progress lost through the JSON column: %+v", got.Progress)
	}
	if len(got.Progress.ErrorLogs) != 1 {
		t.Errorf("ErrorLogs = %v, want 1 entry", got.Progress.ErrorLogs)
	}
	if len(got.Preferences.Genres) != 2 || got.Preferences.ReadingLevel != "middle_grade" {
		t.Errorf("preferences lost through the JSON column: %+v", got.Preferences)
	}
	if got.Flags.CharacterLedger == nil || !*got.Flags.CharacterLedger {
		t.Error("flag override lost through the JSON column")
	}
	if got.Flags.VoiceReview != nil {
		t.Error("unset flag came back non-nil")
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestChapterDocRoundTrip(t *testing.T) {
	ch := &story.Chapter{
		StoryID:      "bae-story-1",
		Number:       4,
		Title:        "The Descent",
		Text:         "Isla took the stairs two at a time.",
		WordCount:    7,
		QualityScore: 8.2,
		Review: &story.QualityReview{
			Scores: map[string]story.CriterionScore{
				story.CriterionDialogue: {Score: 8, Evidence: "the argument on the landing"},
			},
			WeightedScore: 8.2,
			Passed:        true,
		},
		Metadata: story.ChapterMetadata{
			ClosingHook: "the door was already open",
			KeyEvents:   []string{"found the door"},
		},
		Regenerations: 1,
		Model:         "anthropic/claude-sonnet-4.5",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	input, err := chapterToInput(ch)
	if err != nil {
		t.Fatalf("chapterToInput() error = %v", err)
	}
	got := parseChapter(inputToDoc(t, input, "bae-ch-4"))

	if got.Number != 4 || got.QualityScore != 8.2 || got.Regenerations != 1 {
		t.Errorf("scalar fields lost: number=%d score=%v regens=%d", got.Number, got.QualityScore, got.Regenerations)
	}
	if got.Review == nil || !got.Review.Passed {
		t.Fatal("review lost through the JSON column")
	}
	if s := got.Review.Scores[story.CriterionDialogue]; s.Score != 8 {
		t.Errorf("dialogue score = %v, want 8", s.Score)
	}
	if got.Ledger != nil {
		t.Error("absent ledger came back non-nil")
	}
	if got.Metadata.ClosingHook != ch.Metadata.ClosingHook {
		t.Errorf("metadata hook = %q, want %q", got.Metadata.ClosingHook, ch.Metadata.ClosingHook)
	}

	t.Run("nil_review_omitted", func(t *testing.T) {
		bare := &story.Chapter{StoryID: "s", Number: 1, Text: "x", CreatedAt: time.Now()}
		input, err := chapterToInput(bare)
		if err != nil {
			t.Fatalf("chapterToInput() error = %v", err)
		}
		if _, ok := input["review"]; ok {
			t.Error("nil review produced a review column")
		}
		if _, ok := input["ledger"]; ok {
			t.Error("nil ledger produced a ledger column")
		}
	})
}

func TestBibleDocRoundTrip(t *testing.T) {
	rec := &story.BibleRecord{
		StoryID: "bae-story-1",
		Version: 1,
		Content: story.Bible{
			WorldRules:  []string{"the lighthouse lamp never goes out"},
			Protagonist: story.Protagonist{Name: "Isla", FalseBelief: "she must do everything alone"},
			Antagonist:  story.Antagonist{Name: "The Warden", SympatheticElement: "protects what's below"},
			Stakes:      "the town floods",
			Extras:      map[string]json.RawMessage{"magic_system": json.RawMessage(`"tide-bound"`)},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	input, err := bibleToInput(rec)
	if err != nil {
		t.Fatalf("bibleToInput() error = %v", err)
	}
	got := parseBible(inputToDoc(t, input, "bae-bible-1"))

	if got.Content.Protagonist.FalseBelief != rec.Content.Protagonist.FalseBelief {
		t.Errorf("FalseBelief = %q, want %q", got.Content.Protagonist.FalseBelief, rec.Content.Protagonist.FalseBelief)
	}
	if got.Content.Antagonist.SympatheticElement == "" {
		t.Error("sympathetic element lost")
	}
	if string(got.Content.Extras["magic_system"]) != `"tide-bound"` {
		t.Errorf("extras not preserved: %v", got.Content.Extras)
	}
}

func TestArcDocRoundTrip(t *testing.T) {
	rec := &story.ArcRecord{
		StoryID:   "bae-story-1",
		ArcNumber: 1,
		Content: story.Arc{
			Chapters: []story.ChapterOutline{
				{Number: 1, Title: "Arrival", Events: "Isla takes the post", WordTarget: 2000},
				{Number: 2, Title: "The Door", Hook: "it was never locked"},
			},
			PacingNotes:    "slow burn through chapter 4",
			SubplotThreads: []string{"the missing keeper"},
		},
		Summary:   "a keeper, a door, a flood",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	input, err := arcToInput(rec)
	if err != nil {
		t.Fatalf("arcToInput() error = %v", err)
	}
	got := parseArc(inputToDoc(t, input, "bae-arc-1"))

	if len(got.Content.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(got.Content.Chapters))
	}
	if outline := got.Content.OutlineFor(2); outline == nil || outline.Hook != "it was never locked" {
		t.Errorf("OutlineFor(2) = %+v, want the hook back", outline)
	}
	if got.Content.PacingNotes != rec.Content.PacingNotes {
		t.Errorf("PacingNotes = %q, want %q", got.Content.PacingNotes, rec.Content.PacingNotes)
	}
}

func TestFeedbackDocRoundTrip(t *testing.T) {
	fb := &story.Feedback{
		StoryID:    "bae-story-1",
		Checkpoint: 5,
		Pacing:     story.PacingSlow,
		Tone:       story.ToneRight,
		Character:  story.CharacterLove,
		Quotes:     []string{"more of the Warden please"},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}

	input, err := feedbackToInput(fb)
	if err != nil {
		t.Fatalf("feedbackToInput() error = %v", err)
	}
	got := parseFeedback(inputToDoc(t, input, "bae-fb-1"))

	if got.Checkpoint != 5 || got.Pacing != story.PacingSlow {
		t.Errorf("feedback = checkpoint %d pacing %q, want 5/%q", got.Checkpoint, got.Pacing, story.PacingSlow)
	}
	if len(got.Quotes) != 1 || got.Quotes[0] != fb.Quotes[0] {
		t.Errorf("Quotes = %v, want %v", got.Quotes, fb.Quotes)
	}
}

func TestCostDocRoundTrip(t *testing.T) {
	rec := story.CostRecord{
		StoryID:      "bae-story-1",
		Kind:         story.KindChapter,
		Model:        "anthropic/claude-sonnet-4.5",
		InputTokens:  12000,
		OutputTokens: 4000,
		CostUSD:      0.096,
		Duration:     2300 * time.Millisecond,
		Success:      true,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	got := parseCost(inputToDoc(t, costToInput(rec), "bae-cost-1"))

	if got.Duration != rec.Duration {
		t.Errorf("Duration = %v, want %v", got.Duration, rec.Duration)
	}
	if got.CostUSD != rec.CostUSD || got.InputTokens != rec.InputTokens {
		t.Errorf("cost fields lost: %+v", got)
	}
	if !got.Success {
		t.Error("success flag lost")
	}
}
