package store

import (
	"errors"
	"testing"
	"time"

	"github.com/fablewright/fable/internal/story"
)

func newTestStory(t *testing.T, m *MemStore) *story.Story {
	t.Helper()
	st, err := m.CreateStory(t.Context(), StoryDraft{
		Owner:      "user-1",
		OwnerName:  "Maya",
		Title:      "The Lighthouse Keeper",
		Genre:      "mystery",
		Premise:    "A keeper finds a door at the base of the lighthouse.",
		PremiseRef: "premise-abc",
		AgeRange:   "middle_grade",
	})
	if err != nil {
		t.Fatalf("CreateStory() error = %v", err)
	}
	return st
}

func TestMemStore_CreateStory(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	if st.ID == "" {
		t.Error("CreateStory() did not assign an ID")
	}
	if st.Status != story.StatusActive {
		t.Errorf("Status = %q, want %q", st.Status, story.StatusActive)
	}
	if st.Progress.CurrentStep != story.StepGeneratingBible {
		t.Errorf("CurrentStep = %q, want %q", st.Progress.CurrentStep, story.StepGeneratingBible)
	}
	if st.Progress.LastUpdated == "" {
		t.Error("Progress.LastUpdated not set")
	}

	t.Run("idempotent_by_premise_ref", func(t *testing.T) {
		again, err := m.CreateStory(t.Context(), StoryDraft{
			Owner:      "user-1",
			PremiseRef: "premise-abc",
			Title:      "Different Title",
		})
		if err != nil {
			t.Fatalf("CreateStory() error = %v", err)
		}
		if again.ID != st.ID {
			t.Errorf("second create returned ID %q, want existing %q", again.ID, st.ID)
		}
		if again.Title != st.Title {
			t.Errorf("second create returned Title %q, want original %q", again.Title, st.Title)
		}
	})

	t.Run("different_owner_same_premise", func(t *testing.T) {
		other, err := m.CreateStory(t.Context(), StoryDraft{
			Owner:      "user-2",
			PremiseRef: "premise-abc",
		})
		if err != nil {
			t.Fatalf("CreateStory() error = %v", err)
		}
		if other.ID == st.ID {
			t.Error("different owner got the same story")
		}
	})
}

func TestMemStore_LoadStory(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	loaded, err := m.LoadStory(t.Context(), st.ID)
	if err != nil {
		t.Fatalf("LoadStory() error = %v", err)
	}
	if loaded.Title != st.Title {
		t.Errorf("Title = %q, want %q", loaded.Title, st.Title)
	}

	t.Run("not_found", func(t *testing.T) {
		_, err := m.LoadStory(t.Context(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadStory() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("caller_mutation_isolated", func(t *testing.T) {
		loaded.Progress.RetryCount = 99
		loaded.Progress.ErrorLogs = append(loaded.Progress.ErrorLogs, "scribble")

		fresh, err := m.LoadStory(t.Context(), st.ID)
		if err != nil {
			t.Fatalf("LoadStory() error = %v", err)
		}
		if fresh.Progress.RetryCount != 0 {
			t.Errorf("RetryCount = %d, caller mutation leaked into store", fresh.Progress.RetryCount)
		}
		if len(fresh.Progress.ErrorLogs) != 0 {
			t.Error("ErrorLogs mutation leaked into store")
		}
	})
}

func TestMemStore_UpdateProgress(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	stale := st.Progress
	stale.LastUpdated = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	m.SetProgressDirect(st.ID, stale)

	p, err := m.UpdateProgress(t.Context(), st.ID, func(p *story.Progress) {
		p.BibleComplete = true
		p.CurrentStep = story.StepBibleCreated
	})
	if err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if !p.BibleComplete {
		t.Error("mutation not applied")
	}
	if p.CurrentStep != story.StepBibleCreated {
		t.Errorf("CurrentStep = %q, want %q", p.CurrentStep, story.StepBibleCreated)
	}
	if p.LastUpdated == stale.LastUpdated {
		t.Error("LastUpdated not bumped")
	}

	loaded, err := m.LoadStory(t.Context(), st.ID)
	if err != nil {
		t.Fatalf("LoadStory() error = %v", err)
	}
	if !loaded.Progress.BibleComplete {
		t.Error("update not persisted")
	}

	t.Run("not_found", func(t *testing.T) {
		_, err := m.UpdateProgress(t.Context(), "missing", func(p *story.Progress) {})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateProgress() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemStore_ClearRecoveryLock(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	_, err := m.UpdateProgress(t.Context(), st.ID, func(p *story.Progress) {
		p.RecoveryStarted = time.Now().UTC().Format(time.RFC3339)
	})
	if err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	if err := m.ClearRecoveryLock(t.Context(), st.ID); err != nil {
		t.Fatalf("ClearRecoveryLock() error = %v", err)
	}
	loaded, _ := m.LoadStory(t.Context(), st.ID)
	if loaded.Progress.RecoveryStarted != "" {
		t.Errorf("RecoveryStarted = %q, want empty", loaded.Progress.RecoveryStarted)
	}
}

func TestMemStore_StatusScans(t *testing.T) {
	m := NewMemStore()
	a := newTestStory(t, m)
	b, _ := m.CreateStory(t.Context(), StoryDraft{Owner: "user-1", PremiseRef: "premise-2"})
	c, _ := m.CreateStory(t.Context(), StoryDraft{Owner: "user-1", PremiseRef: "premise-3"})

	if err := m.SetStatus(t.Context(), b.ID, story.StatusError); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := m.SetStatus(t.Context(), c.ID, story.StatusCompleted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	active, err := m.ActiveStories(t.Context())
	if err != nil {
		t.Fatalf("ActiveStories() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("ActiveStories() = %d stories, want just %s", len(active), a.ID)
	}

	errored, err := m.ErroredStories(t.Context())
	if err != nil {
		t.Fatalf("ErroredStories() error = %v", err)
	}
	if len(errored) != 1 || errored[0].ID != b.ID {
		t.Errorf("ErroredStories() = %d stories, want just %s", len(errored), b.ID)
	}
}

func TestMemStore_SetTitleAndCover(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	if err := m.SetTitle(t.Context(), st.ID, "The Door Below", true); err != nil {
		t.Fatalf("SetTitle() error = %v", err)
	}
	if err := m.SetCover(t.Context(), st.ID, "cover-ref", "file:///covers/x.png"); err != nil {
		t.Fatalf("SetCover() error = %v", err)
	}

	loaded, _ := m.LoadStory(t.Context(), st.ID)
	if loaded.Title != "The Door Below" || !loaded.NameConfirmed {
		t.Errorf("Title = %q confirmed=%v, want confirmed new title", loaded.Title, loaded.NameConfirmed)
	}
	if loaded.CoverRef != "cover-ref" || loaded.CoverURL != "file:///covers/x.png" {
		t.Errorf("cover = (%q, %q), not persisted", loaded.CoverRef, loaded.CoverURL)
	}
}

func TestMemStore_Bible(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	rec, err := m.InsertBible(t.Context(), &story.BibleRecord{
		StoryID: st.ID,
		Version: 1,
		Content: story.Bible{
			Protagonist: story.Protagonist{Name: "Isla"},
			Stakes:      "the town floods",
		},
	})
	if err != nil {
		t.Fatalf("InsertBible() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("InsertBible() did not assign an ID")
	}

	loaded, err := m.LoadBible(t.Context(), st.ID)
	if err != nil {
		t.Fatalf("LoadBible() error = %v", err)
	}
	if loaded.Content.Protagonist.Name != "Isla" {
		t.Errorf("Protagonist = %q, want Isla", loaded.Content.Protagonist.Name)
	}

	storyRow, _ := m.LoadStory(t.Context(), st.ID)
	if storyRow.BibleRef != rec.ID {
		t.Errorf("BibleRef = %q, want %q", storyRow.BibleRef, rec.ID)
	}

	t.Run("idempotent", func(t *testing.T) {
		again, err := m.InsertBible(t.Context(), &story.BibleRecord{
			StoryID: st.ID,
			Content: story.Bible{Protagonist: story.Protagonist{Name: "Someone Else"}},
		})
		if err != nil {
			t.Fatalf("InsertBible() error = %v", err)
		}
		if again.ID != rec.ID {
			t.Errorf("second insert created a new bible %q, want existing %q", again.ID, rec.ID)
		}
		if again.Content.Protagonist.Name != "Isla" {
			t.Error("second insert overwrote the existing bible")
		}
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := m.LoadBible(t.Context(), "other-story")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadBible() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemStore_Arc(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	first, err := m.InsertArc(t.Context(), &story.ArcRecord{
		StoryID:   st.ID,
		ArcNumber: 1,
		Content:   story.Arc{PacingNotes: "slow burn"},
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertArc() error = %v", err)
	}

	t.Run("idempotent_by_arc_number", func(t *testing.T) {
		again, err := m.InsertArc(t.Context(), &story.ArcRecord{
			StoryID:   st.ID,
			ArcNumber: 1,
			Content:   story.Arc{PacingNotes: "different"},
		})
		if err != nil {
			t.Fatalf("InsertArc() error = %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("second insert created arc %q, want existing %q", again.ID, first.ID)
		}
	})

	t.Run("latest_wins", func(t *testing.T) {
		second, err := m.InsertArc(t.Context(), &story.ArcRecord{
			StoryID:   st.ID,
			ArcNumber: 2,
			Content:   story.Arc{PacingNotes: "reworked"},
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("InsertArc() error = %v", err)
		}

		latest, err := m.LoadLatestArc(t.Context(), st.ID)
		if err != nil {
			t.Fatalf("LoadLatestArc() error = %v", err)
		}
		if latest.ID != second.ID {
			t.Errorf("LoadLatestArc() = %q, want newest %q", latest.ID, second.ID)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := m.LoadLatestArc(t.Context(), "other-story")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadLatestArc() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemStore_Chapters(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	for n := 1; n <= 5; n++ {
		_, err := m.InsertChapter(t.Context(), &story.Chapter{
			StoryID: st.ID,
			Number:  n,
			Title:   "Chapter",
			Text:    "some chapter text here",
		})
		if err != nil {
			t.Fatalf("InsertChapter(%d) error = %v", n, err)
		}
	}

	t.Run("idempotent_by_number", func(t *testing.T) {
		count0, _ := m.CountChapters(t.Context(), st.ID)
		again, err := m.InsertChapter(t.Context(), &story.Chapter{
			StoryID: st.ID,
			Number:  3,
			Text:    "replacement text",
		})
		if err != nil {
			t.Fatalf("InsertChapter() error = %v", err)
		}
		if again.Text != "some chapter text here" {
			t.Error("second insert overwrote the existing chapter")
		}
		count1, _ := m.CountChapters(t.Context(), st.ID)
		if count1 != count0 {
			t.Errorf("CountChapters = %d after duplicate insert, want %d", count1, count0)
		}
	})

	t.Run("word_count_computed", func(t *testing.T) {
		ch, err := m.LoadChapter(t.Context(), st.ID, 1)
		if err != nil {
			t.Fatalf("LoadChapter() error = %v", err)
		}
		if ch.WordCount != 4 {
			t.Errorf("WordCount = %d, want 4", ch.WordCount)
		}
	})

	t.Run("load_all_ordered", func(t *testing.T) {
		chapters, err := m.LoadChapters(t.Context(), st.ID)
		if err != nil {
			t.Fatalf("LoadChapters() error = %v", err)
		}
		if len(chapters) != 5 {
			t.Fatalf("LoadChapters() = %d chapters, want 5", len(chapters))
		}
		for i, ch := range chapters {
			if ch.Number != i+1 {
				t.Errorf("chapters[%d].Number = %d, want %d", i, ch.Number, i+1)
			}
		}
	})

	t.Run("previous_window", func(t *testing.T) {
		prior, err := m.LoadPreviousChapters(t.Context(), st.ID, 5, 3)
		if err != nil {
			t.Fatalf("LoadPreviousChapters() error = %v", err)
		}
		if len(prior) != 3 {
			t.Fatalf("LoadPreviousChapters() = %d chapters, want 3", len(prior))
		}
		want := []int{2, 3, 4}
		for i, ch := range prior {
			if ch.Number != want[i] {
				t.Errorf("prior[%d].Number = %d, want %d", i, ch.Number, want[i])
			}
		}
	})

	t.Run("previous_fewer_than_window", func(t *testing.T) {
		prior, err := m.LoadPreviousChapters(t.Context(), st.ID, 2, 3)
		if err != nil {
			t.Fatalf("LoadPreviousChapters() error = %v", err)
		}
		if len(prior) != 1 || prior[0].Number != 1 {
			t.Errorf("LoadPreviousChapters(n=2) = %d chapters, want just chapter 1", len(prior))
		}
	})

	t.Run("update_text", func(t *testing.T) {
		ch, _ := m.LoadChapter(t.Context(), st.ID, 2)
		if err := m.UpdateChapterText(t.Context(), ch.ID, "one two three", 0); err != nil {
			t.Fatalf("UpdateChapterText() error = %v", err)
		}
		updated, _ := m.LoadChapter(t.Context(), st.ID, 2)
		if updated.Text != "one two three" || updated.WordCount != 3 {
			t.Errorf("chapter = (%q, %d), want rewritten text with recount", updated.Text, updated.WordCount)
		}
	})

	t.Run("update_ledger", func(t *testing.T) {
		ch, _ := m.LoadChapter(t.Context(), st.ID, 2)
		ledger := &story.ChapterLedger{
			Characters: []story.CharacterState{{Name: "Isla", EmotionalState: "resolute"}},
		}
		if err := m.UpdateChapterLedger(t.Context(), ch.ID, ledger); err != nil {
			t.Fatalf("UpdateChapterLedger() error = %v", err)
		}
		updated, _ := m.LoadChapter(t.Context(), st.ID, 2)
		if updated.Ledger == nil || len(updated.Ledger.Characters) != 1 {
			t.Fatal("ledger not persisted")
		}
		if updated.Ledger.Characters[0].Name != "Isla" {
			t.Errorf("ledger character = %q, want Isla", updated.Ledger.Characters[0].Name)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		if _, err := m.LoadChapter(t.Context(), st.ID, 12); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadChapter() error = %v, want ErrNotFound", err)
		}
		if err := m.UpdateChapterText(t.Context(), "missing", "x", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateChapterText() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemStore_Feedback(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)

	fb, err := m.InsertFeedback(t.Context(), &story.Feedback{
		StoryID:    st.ID,
		Checkpoint: 2,
		Pacing:     story.PacingSlow,
		Tone:       story.ToneRight,
		Character:  story.CharacterWarming,
		Quotes:     []string{"loved the lighthouse scene"},
	})
	if err != nil {
		t.Fatalf("InsertFeedback() error = %v", err)
	}

	t.Run("idempotent_by_checkpoint", func(t *testing.T) {
		again, err := m.InsertFeedback(t.Context(), &story.Feedback{
			StoryID:    st.ID,
			Checkpoint: 2,
			Pacing:     story.PacingFast,
		})
		if err != nil {
			t.Fatalf("InsertFeedback() error = %v", err)
		}
		if again.ID != fb.ID {
			t.Errorf("second insert created feedback %q, want existing %q", again.ID, fb.ID)
		}
		if again.Pacing != story.PacingSlow {
			t.Error("second insert overwrote the existing feedback")
		}
	})

	t.Run("for_checkpoint", func(t *testing.T) {
		got, err := m.FeedbackForCheckpoint(t.Context(), st.ID, 2)
		if err != nil {
			t.Fatalf("FeedbackForCheckpoint() error = %v", err)
		}
		if got.Pacing != story.PacingSlow {
			t.Errorf("Pacing = %q, want %q", got.Pacing, story.PacingSlow)
		}

		if _, err := m.FeedbackForCheckpoint(t.Context(), st.ID, 5); !errors.Is(err, ErrNotFound) {
			t.Errorf("FeedbackForCheckpoint(5) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list_ordered", func(t *testing.T) {
		if _, err := m.InsertFeedback(t.Context(), &story.Feedback{StoryID: st.ID, Checkpoint: 8}); err != nil {
			t.Fatalf("InsertFeedback() error = %v", err)
		}
		if _, err := m.InsertFeedback(t.Context(), &story.Feedback{StoryID: st.ID, Checkpoint: 5}); err != nil {
			t.Fatalf("InsertFeedback() error = %v", err)
		}
		all, err := m.ListFeedback(t.Context(), st.ID)
		if err != nil {
			t.Fatalf("ListFeedback() error = %v", err)
		}
		want := []int{2, 5, 8}
		if len(all) != len(want) {
			t.Fatalf("ListFeedback() = %d entries, want %d", len(all), len(want))
		}
		for i, fb := range all {
			if fb.Checkpoint != want[i] {
				t.Errorf("feedback[%d].Checkpoint = %d, want %d", i, fb.Checkpoint, want[i])
			}
		}
	})
}

func TestMemStore_CostRecords(t *testing.T) {
	m := NewMemStore()
	st := newTestStory(t, m)
	other := "other-story"

	m.InsertCostRecord(t.Context(), story.CostRecord{
		StoryID: st.ID, Kind: story.KindBible, InputTokens: 1000, OutputTokens: 2000, CostUSD: 0.033, Success: true,
	})
	m.InsertCostRecord(t.Context(), story.CostRecord{
		StoryID: st.ID, Kind: story.KindChapter, Success: false, ErrorType: "transient",
	})
	m.InsertCostRecord(t.Context(), story.CostRecord{
		StoryID: other, Kind: story.KindArc, Success: true,
	})

	mine, err := m.ListCostRecords(t.Context(), st.ID)
	if err != nil {
		t.Fatalf("ListCostRecords() error = %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("ListCostRecords(story) = %d records, want 2", len(mine))
	}

	all, err := m.ListCostRecords(t.Context(), "")
	if err != nil {
		t.Fatalf("ListCostRecords() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListCostRecords(all) = %d records, want 3", len(all))
	}
}
