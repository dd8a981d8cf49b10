// Package store is the typed persistence façade the orchestrator works
// through. It hides the document store behind narrow operations with the
// idempotence discipline the pipeline depends on: artifact inserts check
// for an existing row first and return it instead of duplicating.
package store

import (
	"context"
	"errors"

	"github.com/fablewright/fable/internal/story"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// StoryDraft is the input to CreateStory.
type StoryDraft struct {
	Owner       string
	OwnerName   string
	Title       string
	Genre       string
	Premise     string
	PremiseRef  string
	AgeRange    string
	Preferences story.Preferences
	Flags       story.FeatureFlags
	Model       string
}

// Store is the progress store. Implementations: Defra (production) and
// Memory (tests).
type Store interface {
	// CreateStory writes the story row with initial progress
	// generating_bible, before any model call. Idempotent by
	// (owner, premise_ref): a second create for the same selection
	// returns the existing story.
	CreateStory(ctx context.Context, draft StoryDraft) (*story.Story, error)

	// LoadStory returns a story by ID. ErrNotFound when absent.
	LoadStory(ctx context.Context, id string) (*story.Story, error)

	// ListStories returns stories, optionally filtered by owner
	// (empty owner means all), newest first.
	ListStories(ctx context.Context, owner string) ([]*story.Story, error)

	// ActiveStories returns stories with status active, for the stall scan.
	ActiveStories(ctx context.Context) ([]*story.Story, error)

	// ErroredStories returns stories with status error, for the recovery scan.
	ErroredStories(ctx context.Context) ([]*story.Story, error)

	// SetStatus updates the story status.
	SetStatus(ctx context.Context, id, status string) error

	// SetTitle updates the title and its confirmation flag.
	SetTitle(ctx context.Context, id, title string, confirmed bool) error

	// SetCover records the generated cover reference and URL.
	SetCover(ctx context.Context, id, coverRef, coverURL string) error

	// UpdateProgress applies mutate to the current progress and persists
	// the result, bumping last_updated and the story row's updated_at.
	UpdateProgress(ctx context.Context, id string, mutate func(p *story.Progress)) (*story.Progress, error)

	// ClearRecoveryLock removes recovery_started. Runs on both success
	// and final failure paths.
	ClearRecoveryLock(ctx context.Context, id string) error

	// InsertBible persists a bible. Idempotent by story: an existing
	// bible for the story is returned instead.
	InsertBible(ctx context.Context, rec *story.BibleRecord) (*story.BibleRecord, error)

	// LoadBible returns the story's bible. ErrNotFound when absent.
	LoadBible(ctx context.Context, storyID string) (*story.BibleRecord, error)

	// InsertArc persists an arc. Idempotent by (story, arc_number).
	InsertArc(ctx context.Context, rec *story.ArcRecord) (*story.ArcRecord, error)

	// LoadLatestArc returns the most recently created arc for the story,
	// tolerating duplicate inserts from past recoveries. ErrNotFound when
	// none exist.
	LoadLatestArc(ctx context.Context, storyID string) (*story.ArcRecord, error)

	// InsertChapter persists a chapter. Idempotent by (story, number).
	InsertChapter(ctx context.Context, ch *story.Chapter) (*story.Chapter, error)

	// LoadChapter returns chapter n. ErrNotFound when absent.
	LoadChapter(ctx context.Context, storyID string, n int) (*story.Chapter, error)

	// LoadChapters returns all chapters for a story ordered by number.
	LoadChapters(ctx context.Context, storyID string) ([]*story.Chapter, error)

	// LoadPreviousChapters returns up to window chapters before n,
	// ordered by number ascending.
	LoadPreviousChapters(ctx context.Context, storyID string, n, window int) ([]*story.Chapter, error)

	// UpdateChapterText rewrites a chapter's text after a post-processing
	// pass (entity repair, voice review).
	UpdateChapterText(ctx context.Context, chapterID, text string, wordCount int) error

	// UpdateChapterLedger attaches the extracted character ledger.
	UpdateChapterLedger(ctx context.Context, chapterID string, ledger *story.ChapterLedger) error

	// CountChapters returns the number of persisted chapters.
	CountChapters(ctx context.Context, storyID string) (int, error)

	// InsertFeedback persists checkpoint feedback. Idempotent by
	// (story, checkpoint).
	InsertFeedback(ctx context.Context, fb *story.Feedback) (*story.Feedback, error)

	// ListFeedback returns all feedback for a story ordered by checkpoint.
	ListFeedback(ctx context.Context, storyID string) ([]*story.Feedback, error)

	// FeedbackForCheckpoint returns the feedback at a checkpoint, or
	// ErrNotFound.
	FeedbackForCheckpoint(ctx context.Context, storyID string, checkpoint int) (*story.Feedback, error)

	// InsertCostRecord persists a cost record. Best-effort: failures are
	// logged, never propagated.
	InsertCostRecord(ctx context.Context, rec story.CostRecord)

	// ListCostRecords returns cost records for a story, newest first.
	// Empty storyID returns all records.
	ListCostRecords(ctx context.Context, storyID string) ([]story.CostRecord, error)
}
