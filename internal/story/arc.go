package story

import "time"

// ArcRecord is the persisted wrapper around an Arc document.
type ArcRecord struct {
	ID        string
	StoryID   string
	ArcNumber int
	Content   Arc
	Summary   string
	Model     string
	CreatedAt time.Time
}

// ArcFields are the required top-level keys of an arc document.
var ArcFields = []string{
	"chapters",
	"pacing_notes",
	"subplot_threads",
}

// Arc is the twelve-chapter outline derived from the bible. Exactly
// TotalChapters outlines, in order.
type Arc struct {
	Chapters         []ChapterOutline `json:"chapters"`
	PacingNotes      string           `json:"pacing_notes"`
	SubplotThreads   []string         `json:"subplot_threads"`
	GrowthMilestones []string         `json:"character_growth_milestones,omitempty"`
}

// OutlineFor returns the outline for chapter n, or nil.
func (a Arc) OutlineFor(n int) *ChapterOutline {
	for i := range a.Chapters {
		if a.Chapters[i].Number == n {
			return &a.Chapters[i]
		}
	}
	return nil
}

// ChapterOutline is the plan for a single chapter.
type ChapterOutline struct {
	Number         int      `json:"chapter_number"`
	Title          string   `json:"title"`
	Events         string   `json:"events"`
	CharacterFocus string   `json:"character_focus,omitempty"`
	TensionLevel   int      `json:"tension_level,omitempty"`
	EmotionalArc   string   `json:"emotional_arc,omitempty"`
	KeyDialogue    string   `json:"key_dialogue_moment,omitempty"`
	Hook           string   `json:"chapter_hook,omitempty"`
	KeyRevelations []string `json:"key_revelations,omitempty"`
	WordTarget     int      `json:"word_count_target,omitempty"`
}
