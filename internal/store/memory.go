package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablewright/fable/internal/story"
)

// MemStore is the in-memory Store used by tests and by the dry-run path.
// It mirrors the Defra store's idempotence behavior exactly: artifact
// inserts return the existing row when the business key already exists.
type MemStore struct {
	mu       sync.Mutex
	stories  map[string]*story.Story
	bibles   map[string]*story.BibleRecord // keyed by story ID
	arcs     []*story.ArcRecord
	chapters []*story.Chapter
	feedback []*story.Feedback
	costs    []story.CostRecord
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		stories: make(map[string]*story.Story),
		bibles:  make(map[string]*story.BibleRecord),
	}
}

// deepCopy round-trips v through JSON so callers can mutate what they get
// back without reaching into the store's state.
func deepCopy[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func (m *MemStore) CreateStory(ctx context.Context, draft StoryDraft) (*story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if draft.PremiseRef != "" {
		for _, st := range m.stories {
			if st.Owner == draft.Owner && st.PremiseRef == draft.PremiseRef {
				return deepCopy(st), nil
			}
		}
	}

	now := time.Now().UTC()
	st := &story.Story{
		ID:          uuid.NewString(),
		Owner:       draft.Owner,
		OwnerName:   draft.OwnerName,
		Title:       draft.Title,
		Genre:       draft.Genre,
		Premise:     draft.Premise,
		PremiseRef:  draft.PremiseRef,
		AgeRange:    draft.AgeRange,
		Preferences: draft.Preferences,
		Flags:       draft.Flags,
		Model:       draft.Model,
		Status:      story.StatusActive,
		Progress: story.Progress{
			CurrentStep: story.StepGeneratingBible,
			LastUpdated: now.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.stories[st.ID] = st
	return deepCopy(st), nil
}

func (m *MemStore) LoadStory(ctx context.Context, id string) (*story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(st), nil
}

func (m *MemStore) ListStories(ctx context.Context, owner string) ([]*story.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*story.Story
	for _, st := range m.stories {
		if owner != "" && st.Owner != owner {
			continue
		}
		out = append(out, deepCopy(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemStore) ActiveStories(ctx context.Context) ([]*story.Story, error) {
	return m.byStatus(story.StatusActive), nil
}

func (m *MemStore) ErroredStories(ctx context.Context) ([]*story.Story, error) {
	return m.byStatus(story.StatusError), nil
}

func (m *MemStore) byStatus(status string) []*story.Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*story.Story
	for _, st := range m.stories {
		if st.Status == status {
			out = append(out, deepCopy(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemStore) SetStatus(ctx context.Context, id, status string) error {
	return m.mutateStory(id, func(st *story.Story) {
		st.Status = status
	})
}

func (m *MemStore) SetTitle(ctx context.Context, id, title string, confirmed bool) error {
	return m.mutateStory(id, func(st *story.Story) {
		st.Title = title
		st.NameConfirmed = confirmed
	})
}

func (m *MemStore) SetCover(ctx context.Context, id, coverRef, coverURL string) error {
	return m.mutateStory(id, func(st *story.Story) {
		st.CoverRef = coverRef
		st.CoverURL = coverURL
	})
}

func (m *MemStore) mutateStory(id string, fn func(st *story.Story)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stories[id]
	if !ok {
		return ErrNotFound
	}
	fn(st)
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) UpdateProgress(ctx context.Context, id string, mutate func(p *story.Progress)) (*story.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stories[id]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(&st.Progress)
	st.Progress.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	st.UpdatedAt = time.Now().UTC()
	p := deepCopy(st.Progress)
	return &p, nil
}

func (m *MemStore) ClearRecoveryLock(ctx context.Context, id string) error {
	_, err := m.UpdateProgress(ctx, id, func(p *story.Progress) {
		p.RecoveryStarted = ""
	})
	return err
}

func (m *MemStore) InsertBible(ctx context.Context, rec *story.BibleRecord) (*story.BibleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bibles[rec.StoryID]; ok {
		return deepCopy(existing), nil
	}
	cp := deepCopy(rec)
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.bibles[cp.StoryID] = cp
	if st, ok := m.stories[cp.StoryID]; ok {
		st.BibleRef = cp.ID
	}
	return deepCopy(cp), nil
}

func (m *MemStore) LoadBible(ctx context.Context, storyID string) (*story.BibleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.bibles[storyID]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(rec), nil
}

func (m *MemStore) InsertArc(ctx context.Context, rec *story.ArcRecord) (*story.ArcRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.arcs {
		if a.StoryID == rec.StoryID && a.ArcNumber == rec.ArcNumber {
			return deepCopy(a), nil
		}
	}
	cp := deepCopy(rec)
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.arcs = append(m.arcs, cp)
	return deepCopy(cp), nil
}

func (m *MemStore) LoadLatestArc(ctx context.Context, storyID string) (*story.ArcRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *story.ArcRecord
	for _, a := range m.arcs {
		if a.StoryID != storyID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return deepCopy(latest), nil
}

func (m *MemStore) InsertChapter(ctx context.Context, ch *story.Chapter) (*story.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.chapters {
		if existing.StoryID == ch.StoryID && existing.Number == ch.Number {
			return deepCopy(existing), nil
		}
	}
	cp := deepCopy(ch)
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.WordCount == 0 {
		cp.WordCount = story.CountWords(cp.Text)
	}
	m.chapters = append(m.chapters, cp)
	return deepCopy(cp), nil
}

func (m *MemStore) LoadChapter(ctx context.Context, storyID string, n int) (*story.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.chapters {
		if ch.StoryID == storyID && ch.Number == n {
			return deepCopy(ch), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) LoadChapters(ctx context.Context, storyID string) ([]*story.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*story.Chapter
	for _, ch := range m.chapters {
		if ch.StoryID == storyID {
			out = append(out, deepCopy(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemStore) LoadPreviousChapters(ctx context.Context, storyID string, n, window int) ([]*story.Chapter, error) {
	if window <= 0 {
		return nil, nil
	}
	all, err := m.LoadChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var prior []*story.Chapter
	for _, ch := range all {
		if ch.Number < n {
			prior = append(prior, ch)
		}
	}
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	return prior, nil
}

func (m *MemStore) UpdateChapterText(ctx context.Context, chapterID, text string, wordCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.chapters {
		if ch.ID == chapterID {
			ch.Text = text
			if wordCount == 0 {
				wordCount = story.CountWords(text)
			}
			ch.WordCount = wordCount
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) UpdateChapterLedger(ctx context.Context, chapterID string, ledger *story.ChapterLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.chapters {
		if ch.ID == chapterID {
			ch.Ledger = deepCopy(ledger)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) CountChapters(ctx context.Context, storyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ch := range m.chapters {
		if ch.StoryID == storyID {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) InsertFeedback(ctx context.Context, fb *story.Feedback) (*story.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.feedback {
		if existing.StoryID == fb.StoryID && existing.Checkpoint == fb.Checkpoint {
			return deepCopy(existing), nil
		}
	}
	cp := deepCopy(fb)
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.feedback = append(m.feedback, cp)
	return deepCopy(cp), nil
}

func (m *MemStore) ListFeedback(ctx context.Context, storyID string) ([]*story.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*story.Feedback
	for _, fb := range m.feedback {
		if fb.StoryID == storyID {
			out = append(out, deepCopy(fb))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	return out, nil
}

func (m *MemStore) FeedbackForCheckpoint(ctx context.Context, storyID string, checkpoint int) (*story.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fb := range m.feedback {
		if fb.StoryID == storyID && fb.Checkpoint == checkpoint {
			return deepCopy(fb), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) InsertCostRecord(ctx context.Context, rec story.CostRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.costs = append(m.costs, rec)
}

func (m *MemStore) ListCostRecords(ctx context.Context, storyID string) ([]story.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []story.CostRecord
	for _, rec := range m.costs {
		if storyID != "" && rec.StoryID != storyID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetProgressDirect overwrites a story's progress without bumping
// last_updated. Test hook for building stale or drifted states.
func (m *MemStore) SetProgressDirect(id string, p story.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stories[id]; ok {
		st.Progress = p
	}
}
