package story

import "time"

// Feedback dimension values. The neutral value for each dimension means
// "keep doing what you're doing"; anything else triggers the editor brief.
const (
	PacingHooked = "hooked"
	PacingSlow   = "slow"
	PacingFast   = "fast"

	ToneRight   = "right"
	ToneSerious = "serious"
	ToneLight   = "light"

	CharacterLove        = "love"
	CharacterWarming     = "warming"
	CharacterNotClicking = "not_clicking"
)

// Feedback is reader input at a checkpoint (chapter 2, 5 or 8). Either the
// structured dimensions are set, or Transcript holds a free-form interview
// that gets reduced to the same dimensions.
type Feedback struct {
	ID         string
	StoryID    string
	Checkpoint int
	Pacing     string
	Tone       string
	Character  string
	Quotes     []string
	Transcript string
	CreatedAt  time.Time
}

// Neutral reports whether every dimension is the keep-going value. Unset
// dimensions count as neutral.
func (f Feedback) Neutral() bool {
	if f.Pacing != "" && f.Pacing != PacingHooked {
		return false
	}
	if f.Tone != "" && f.Tone != ToneRight {
		return false
	}
	if f.Character != "" && f.Character != CharacterLove {
		return false
	}
	return true
}

// HasDimensions reports whether the structured dimensions are populated.
func (f Feedback) HasDimensions() bool {
	return f.Pacing != "" || f.Tone != "" || f.Character != ""
}

// EditorBrief is the course-correction artifact built from checkpoint
// feedback: per-chapter revised outlines plus one target style passage.
type EditorBrief struct {
	RevisedOutlines map[int]RevisedOutline
	StyleExample    string
}

// OutlineFor returns the revised outline for chapter n, or nil.
func (b *EditorBrief) OutlineFor(n int) *RevisedOutline {
	if b == nil {
		return nil
	}
	ro, ok := b.RevisedOutlines[n]
	if !ok {
		return nil
	}
	return &ro
}

// RevisedOutline is one chapter's adjusted plan: the baseline outline
// fields the editor chose to override, plus 2-3 concrete beats.
type RevisedOutline struct {
	Chapter      int
	Title        string
	Events       string
	EmotionalArc string
	Hook         string
	EditorNotes  []string
}

// Overlay applies the revised fields onto a baseline outline, leaving
// untouched fields alone.
func (ro RevisedOutline) Overlay(base ChapterOutline) ChapterOutline {
	out := base
	if ro.Title != "" {
		out.Title = ro.Title
	}
	if ro.Events != "" {
		out.Events = ro.Events
	}
	if ro.EmotionalArc != "" {
		out.EmotionalArc = ro.EmotionalArc
	}
	if ro.Hook != "" {
		out.Hook = ro.Hook
	}
	return out
}
