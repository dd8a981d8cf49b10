package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fablewright/fable/internal/defra"
	"github.com/fablewright/fable/internal/story"
)

// DefraStore implements Store on DefraDB. Cost records go through the
// write-behind sink; everything the pipeline blocks on is synchronous.
type DefraStore struct {
	client *defra.Client
	sink   *defra.Sink
	logger *slog.Logger
}

// NewDefraStore creates a Store over a DefraDB client. sink may be nil, in
// which case cost records are written synchronously (still best-effort).
func NewDefraStore(client *defra.Client, sink *defra.Sink, logger *slog.Logger) *DefraStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraStore{client: client, sink: sink, logger: logger}
}

// CreateStory writes the story row before any model call so a crash leaves
// a resumable record. Idempotent by (owner, premise_ref).
func (s *DefraStore) CreateStory(ctx context.Context, draft StoryDraft) (*story.Story, error) {
	if draft.PremiseRef != "" {
		resp, err := defra.NewQuery("Story").
			Filter("owner", draft.Owner).
			Filter("premise_ref", draft.PremiseRef).
			Fields(storyFields...).
			Execute(ctx, s.client)
		if err != nil {
			return nil, fmt.Errorf("duplicate check failed: %w", err)
		}
		if docs := resp.Docs("Story"); len(docs) > 0 {
			existing := parseStory(docs[0])
			s.logger.Info("story already exists for premise, returning it",
				"story_id", existing.ID, "premise_ref", draft.PremiseRef)
			return existing, nil
		}
	}

	now := time.Now().UTC()
	st := &story.Story{
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

	input, err := storyToInput(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode story: %w", err)
	}
	docID, err := s.client.Create(ctx, "Story", input)
	if err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}
	st.ID = docID
	return st, nil
}

func (s *DefraStore) LoadStory(ctx context.Context, id string) (*story.Story, error) {
	if err := defra.ValidateID(id); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`{ Story(docID: %q) { %s } }`, id, fieldList(storyFields))
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	docs := resp.Docs("Story")
	if len(docs) == 0 {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return parseStory(docs[0]), nil
}

func (s *DefraStore) ListStories(ctx context.Context, owner string) ([]*story.Story, error) {
	q := defra.NewQuery("Story").
		Fields(storyFields...).
		OrderBy("updated_at", "DESC")
	if owner != "" {
		q = q.Filter("owner", owner)
	}
	resp, err := q.Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return parseStories(resp.Docs("Story")), nil
}

func (s *DefraStore) ActiveStories(ctx context.Context) ([]*story.Story, error) {
	return s.storiesByStatus(ctx, story.StatusActive)
}

func (s *DefraStore) ErroredStories(ctx context.Context) ([]*story.Story, error) {
	return s.storiesByStatus(ctx, story.StatusError)
}

func (s *DefraStore) storiesByStatus(ctx context.Context, status string) ([]*story.Story, error) {
	resp, err := defra.NewQuery("Story").
		Filter("status", status).
		Fields(storyFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s stories: %w", status, err)
	}
	return parseStories(resp.Docs("Story")), nil
}

func parseStories(docs []map[string]any) []*story.Story {
	out := make([]*story.Story, 0, len(docs))
	for _, doc := range docs {
		out = append(out, parseStory(doc))
	}
	return out
}

func (s *DefraStore) SetStatus(ctx context.Context, id, status string) error {
	return s.updateStory(ctx, id, map[string]any{"status": status})
}

func (s *DefraStore) SetTitle(ctx context.Context, id, title string, confirmed bool) error {
	return s.updateStory(ctx, id, map[string]any{
		"title":          title,
		"name_confirmed": confirmed,
	})
}

func (s *DefraStore) SetCover(ctx context.Context, id, coverRef, coverURL string) error {
	return s.updateStory(ctx, id, map[string]any{
		"cover_ref": coverRef,
		"cover_url": coverURL,
	})
}

// updateStory applies a partial update and bumps updated_at.
func (s *DefraStore) updateStory(ctx context.Context, id string, input map[string]any) error {
	input["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Update(ctx, "Story", id, input); err != nil {
		return fmt.Errorf("failed to update story %s: %w", id, err)
	}
	return nil
}

// UpdateProgress reads the current progress, applies mutate, and writes it
// back, bumping last_updated and updated_at. Single-writer per story by
// construction, so read-modify-write is safe here.
func (s *DefraStore) UpdateProgress(ctx context.Context, id string, mutate func(p *story.Progress)) (*story.Progress, error) {
	st, err := s.LoadStory(ctx, id)
	if err != nil {
		return nil, err
	}

	p := st.Progress
	mutate(&p)
	p.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	encoded, err := story.MarshalJSONString(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := s.updateStory(ctx, id, map[string]any{"progress": encoded}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DefraStore) ClearRecoveryLock(ctx context.Context, id string) error {
	_, err := s.UpdateProgress(ctx, id, func(p *story.Progress) {
		p.RecoveryStarted = ""
	})
	return err
}

func (s *DefraStore) InsertBible(ctx context.Context, rec *story.BibleRecord) (*story.BibleRecord, error) {
	existing, err := s.LoadBible(ctx, rec.StoryID)
	if err == nil {
		s.logger.Info("bible already exists, returning it", "story_id", rec.StoryID)
		return existing, nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	input, err := bibleToInput(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bible: %w", err)
	}
	docID, err := s.client.Create(ctx, "Bible", input)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bible: %w", err)
	}
	rec.ID = docID

	// Pin the reference on the story row; non-fatal if it races.
	if err := s.updateStory(ctx, rec.StoryID, map[string]any{"bible_ref": docID}); err != nil {
		s.logger.Warn("failed to set bible_ref", "story_id", rec.StoryID, "error", err)
	}
	return rec, nil
}

func (s *DefraStore) LoadBible(ctx context.Context, storyID string) (*story.BibleRecord, error) {
	resp, err := defra.NewQuery("Bible").
		Filter("story_id", storyID).
		Fields(bibleFields...).
		OrderBy("created_at", "DESC").
		Limit(1).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to load bible: %w", err)
	}
	docs := resp.Docs("Bible")
	if len(docs) == 0 {
		return nil, fmt.Errorf("bible for story %s: %w", storyID, ErrNotFound)
	}
	return parseBible(docs[0]), nil
}

func (s *DefraStore) InsertArc(ctx context.Context, rec *story.ArcRecord) (*story.ArcRecord, error) {
	resp, err := defra.NewQuery("Arc").
		Filter("story_id", rec.StoryID).
		Filter("arc_number", rec.ArcNumber).
		Fields(arcFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("arc pre-existence check failed: %w", err)
	}
	if docs := resp.Docs("Arc"); len(docs) > 0 {
		s.logger.Info("arc already exists, returning it",
			"story_id", rec.StoryID, "arc_number", rec.ArcNumber)
		return parseArc(docs[0]), nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	input, err := arcToInput(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arc: %w", err)
	}
	docID, err := s.client.Create(ctx, "Arc", input)
	if err != nil {
		return nil, fmt.Errorf("failed to insert arc: %w", err)
	}
	rec.ID = docID
	return rec, nil
}

// LoadLatestArc orders by creation and picks the newest, tolerating
// duplicate arcs left behind by past recoveries.
func (s *DefraStore) LoadLatestArc(ctx context.Context, storyID string) (*story.ArcRecord, error) {
	resp, err := defra.NewQuery("Arc").
		Filter("story_id", storyID).
		Fields(arcFields...).
		OrderBy("created_at", "DESC").
		Limit(1).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to load arc: %w", err)
	}
	docs := resp.Docs("Arc")
	if len(docs) == 0 {
		return nil, fmt.Errorf("arc for story %s: %w", storyID, ErrNotFound)
	}
	return parseArc(docs[0]), nil
}

func (s *DefraStore) InsertChapter(ctx context.Context, ch *story.Chapter) (*story.Chapter, error) {
	existing, err := s.LoadChapter(ctx, ch.StoryID, ch.Number)
	if err == nil {
		s.logger.Info("chapter already exists, returning it",
			"story_id", ch.StoryID, "number", ch.Number)
		return existing, nil
	}

	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.WordCount == 0 {
		ch.WordCount = story.CountWords(ch.Text)
	}
	input, err := chapterToInput(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chapter: %w", err)
	}
	docID, err := s.client.Create(ctx, "Chapter", input)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chapter %d: %w", ch.Number, err)
	}
	ch.ID = docID
	return ch, nil
}

func (s *DefraStore) LoadChapter(ctx context.Context, storyID string, n int) (*story.Chapter, error) {
	resp, err := defra.NewQuery("Chapter").
		Filter("story_id", storyID).
		Filter("number", n).
		Fields(chapterFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter %d: %w", n, err)
	}
	docs := resp.Docs("Chapter")
	if len(docs) == 0 {
		return nil, fmt.Errorf("chapter %d for story %s: %w", n, storyID, ErrNotFound)
	}
	return parseChapter(docs[0]), nil
}

func (s *DefraStore) LoadChapters(ctx context.Context, storyID string) ([]*story.Chapter, error) {
	resp, err := defra.NewQuery("Chapter").
		Filter("story_id", storyID).
		Fields(chapterFields...).
		OrderBy("number", "ASC").
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}
	docs := resp.Docs("Chapter")
	chapters := make([]*story.Chapter, 0, len(docs))
	for _, doc := range docs {
		chapters = append(chapters, parseChapter(doc))
	}
	// Ordering support varies across DefraDB versions; sort locally.
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	return chapters, nil
}

func (s *DefraStore) LoadPreviousChapters(ctx context.Context, storyID string, n, window int) ([]*story.Chapter, error) {
	if window <= 0 {
		return nil, nil
	}
	all, err := s.LoadChapters(ctx, storyID)
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

func (s *DefraStore) UpdateChapterText(ctx context.Context, chapterID, text string, wordCount int) error {
	if wordCount == 0 {
		wordCount = story.CountWords(text)
	}
	err := s.client.Update(ctx, "Chapter", chapterID, map[string]any{
		"text":       text,
		"word_count": wordCount,
	})
	if err != nil {
		return fmt.Errorf("failed to update chapter text: %w", err)
	}
	return nil
}

func (s *DefraStore) UpdateChapterLedger(ctx context.Context, chapterID string, ledger *story.ChapterLedger) error {
	encoded, err := story.MarshalJSONString(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := s.client.Update(ctx, "Chapter", chapterID, map[string]any{"ledger": encoded}); err != nil {
		return fmt.Errorf("failed to update chapter ledger: %w", err)
	}
	return nil
}

func (s *DefraStore) CountChapters(ctx context.Context, storyID string) (int, error) {
	count, err := s.client.Count(ctx, "Chapter", map[string]any{"story_id": storyID})
	if err != nil {
		return 0, fmt.Errorf("failed to count chapters: %w", err)
	}
	return count, nil
}

func (s *DefraStore) InsertFeedback(ctx context.Context, fb *story.Feedback) (*story.Feedback, error) {
	existing, err := s.FeedbackForCheckpoint(ctx, fb.StoryID, fb.Checkpoint)
	if err == nil {
		s.logger.Info("feedback already exists for checkpoint, returning it",
			"story_id", fb.StoryID, "checkpoint", fb.Checkpoint)
		return existing, nil
	}

	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	input, err := feedbackToInput(fb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feedback: %w", err)
	}
	docID, err := s.client.Create(ctx, "Feedback", input)
	if err != nil {
		return nil, fmt.Errorf("failed to insert feedback: %w", err)
	}
	fb.ID = docID
	return fb, nil
}

func (s *DefraStore) ListFeedback(ctx context.Context, storyID string) ([]*story.Feedback, error) {
	resp, err := defra.NewQuery("Feedback").
		Filter("story_id", storyID).
		Fields(feedbackFields...).
		OrderBy("checkpoint", "ASC").
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	docs := resp.Docs("Feedback")
	out := make([]*story.Feedback, 0, len(docs))
	for _, doc := range docs {
		out = append(out, parseFeedback(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	return out, nil
}

func (s *DefraStore) FeedbackForCheckpoint(ctx context.Context, storyID string, checkpoint int) (*story.Feedback, error) {
	resp, err := defra.NewQuery("Feedback").
		Filter("story_id", storyID).
		Filter("checkpoint", checkpoint).
		Fields(feedbackFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	docs := resp.Docs("Feedback")
	if len(docs) == 0 {
		return nil, fmt.Errorf("feedback at checkpoint %d for story %s: %w", checkpoint, storyID, ErrNotFound)
	}
	return parseFeedback(docs[0]), nil
}

// InsertCostRecord is fire-and-forget: it rides the write-behind sink when
// one is wired, and failures only log.
func (s *DefraStore) InsertCostRecord(ctx context.Context, rec story.CostRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	input := costToInput(rec)

	if s.sink != nil {
		s.sink.Send(defra.WriteOp{
			Collection: "CostRecord",
			Document:   input,
			Op:         defra.OpCreate,
		})
		return
	}

	if _, err := s.client.Create(ctx, "CostRecord", input); err != nil {
		s.logger.Warn("failed to record cost", "story_id", rec.StoryID, "kind", rec.Kind, "error", err)
	}
}

func (s *DefraStore) ListCostRecords(ctx context.Context, storyID string) ([]story.CostRecord, error) {
	q := defra.NewQuery("CostRecord").
		Fields(costFields...).
		OrderBy("created_at", "DESC")
	if storyID != "" {
		q = q.Filter("story_id", storyID)
	}
	resp, err := q.Execute(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	docs := resp.Docs("CostRecord")
	out := make([]story.CostRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, parseCost(doc))
	}
	return out, nil
}

// fieldList joins field names for a raw query body.
func fieldList(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}
