package costs

import (
	"context"
	"testing"
	"time"

	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

func seedStory(t *testing.T, ms *store.MemStore, owner, title, premiseRef string) *story.Story {
	t.Helper()
	st, err := ms.CreateStory(context.Background(), store.StoryDraft{
		Owner:      owner,
		OwnerName:  "Noa",
		Title:      title,
		Genre:      "fantasy",
		Premise:    "A lighthouse keeper's daughter finds a door in the sea.",
		PremiseRef: premiseRef,
		AgeRange:   "middle_grade",
	})
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return st
}

func TestSummarize(t *testing.T) {
	recs := []story.CostRecord{
		{Kind: story.KindBible, CostUSD: 0.30, InputTokens: 1000, OutputTokens: 4000, Duration: 20 * time.Second, Success: true},
		{Kind: story.KindChapter, CostUSD: 0.50, InputTokens: 6000, OutputTokens: 2000, Duration: 40 * time.Second, Success: true},
		{Kind: story.KindChapter, CostUSD: 0.10, InputTokens: 2000, OutputTokens: 0, Duration: 5 * time.Second, Success: false},
	}

	s := Summarize(recs)
	if got, want := s.Count, 3; got != want {
		t.Errorf("Count = %d, want %d", got, want)
	}
	if got, want := s.TotalCostUSD, 0.90; !closeTo(got, want) {
		t.Errorf("TotalCostUSD = %v, want %v", got, want)
	}
	if got, want := s.InputTokens, 9000; got != want {
		t.Errorf("InputTokens = %d, want %d", got, want)
	}
	if got, want := s.OutputTokens, 6000; got != want {
		t.Errorf("OutputTokens = %d, want %d", got, want)
	}
	if got, want := s.TotalTime, 65*time.Second; got != want {
		t.Errorf("TotalTime = %v, want %v", got, want)
	}
	if got, want := s.SuccessCount, 2; got != want {
		t.Errorf("SuccessCount = %d, want %d", got, want)
	}
	if got, want := s.ErrorCount, 1; got != want {
		t.Errorf("ErrorCount = %d, want %d", got, want)
	}
	if got, want := s.AvgCostUSD, 0.30; !closeTo(got, want) {
		t.Errorf("AvgCostUSD = %v, want %v", got, want)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Count != 0 || s.TotalCostUSD != 0 || s.AvgCostUSD != 0 {
		t.Errorf("empty summary not zero: %+v", s)
	}
}

func TestByKind(t *testing.T) {
	recs := []story.CostRecord{
		{Kind: story.KindBible, CostUSD: 0.30, Success: true},
		{Kind: story.KindChapter, CostUSD: 0.50, Success: true},
		{Kind: story.KindChapter, CostUSD: 0.45, Success: true},
		{Kind: story.KindReview, CostUSD: 0.05, Success: true},
	}

	byKind := ByKind(recs)
	if got, want := len(byKind), 3; got != want {
		t.Fatalf("kinds = %d, want %d", got, want)
	}
	if got, want := byKind[story.KindChapter].Count, 2; got != want {
		t.Errorf("chapter count = %d, want %d", got, want)
	}
	if got, want := byKind[story.KindChapter].TotalCostUSD, 0.95; !closeTo(got, want) {
		t.Errorf("chapter cost = %v, want %v", got, want)
	}
	if got, want := byKind[story.KindBible].Count, 1; got != want {
		t.Errorf("bible count = %d, want %d", got, want)
	}
}

func TestQueryStory(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemStore()
	st := seedStory(t, ms, "user-1", "The Glass Harbor", "premise-abc")

	ms.InsertCostRecord(ctx, story.CostRecord{StoryID: st.ID, Kind: story.KindBible, CostUSD: 0.30, Success: true})
	ms.InsertCostRecord(ctx, story.CostRecord{StoryID: st.ID, Kind: story.KindChapter, CostUSD: 0.50, Success: true})

	sum, err := NewQuery(ms).Story(ctx, st.ID)
	if err != nil {
		t.Fatalf("Story: %v", err)
	}
	if got, want := sum.Title, "The Glass Harbor"; got != want {
		t.Errorf("Title = %q, want %q", got, want)
	}
	if got, want := sum.Totals.TotalCostUSD, 0.80; !closeTo(got, want) {
		t.Errorf("total = %v, want %v", got, want)
	}
	if got, want := len(sum.ByKind), 2; got != want {
		t.Errorf("kinds = %d, want %d", got, want)
	}
}

func TestQueryStoryUnknown(t *testing.T) {
	ms := store.NewMemStore()
	if _, err := NewQuery(ms).Story(context.Background(), "no-such-story"); err == nil {
		t.Fatal("expected error for unknown story")
	}
}

func TestQueryAll(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemStore()
	cheap := seedStory(t, ms, "user-1", "The Glass Harbor", "premise-abc")
	dear := seedStory(t, ms, "user-2", "Under the Cinder Moon", "premise-def")
	seedStory(t, ms, "user-3", "No Calls Yet", "premise-ghi")

	ms.InsertCostRecord(ctx, story.CostRecord{StoryID: cheap.ID, Kind: story.KindBible, CostUSD: 0.30, Success: true})
	ms.InsertCostRecord(ctx, story.CostRecord{StoryID: dear.ID, Kind: story.KindChapter, CostUSD: 2.10, Success: true})

	all, err := NewQuery(ms).All(ctx, "")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if got, want := len(all), 2; got != want {
		t.Fatalf("summaries = %d, want %d (story without records skipped)", got, want)
	}
	if got, want := all[0].StoryID, dear.ID; got != want {
		t.Errorf("first summary = %s, want most expensive %s", got, want)
	}

	mine, err := NewQuery(ms).All(ctx, "user-1")
	if err != nil {
		t.Fatalf("All(owner): %v", err)
	}
	if got, want := len(mine), 1; got != want {
		t.Fatalf("owner summaries = %d, want %d", got, want)
	}
	if got, want := mine[0].StoryID, cheap.ID; got != want {
		t.Errorf("owner summary = %s, want %s", got, want)
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
