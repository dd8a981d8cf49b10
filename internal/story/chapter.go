package story

import (
	"strings"
	"time"
)

// Chapter is a produced chapter. Unique per (story, number).
type Chapter struct {
	ID            string
	StoryID       string
	Number        int
	Title         string
	Text          string
	WordCount     int
	QualityScore  float64
	Review        *QualityReview
	Ledger        *ChapterLedger
	Metadata      ChapterMetadata
	Regenerations int
	Model         string
	CreatedAt     time.Time
}

// ChapterMetadata carries the hooks and beats the next chapter's prompt
// reuses.
type ChapterMetadata struct {
	OpeningHook          string   `json:"opening_hook,omitempty"`
	ClosingHook          string   `json:"closing_hook,omitempty"`
	KeyEvents            []string `json:"key_events,omitempty"`
	CharacterDevelopment string   `json:"character_development,omitempty"`
}

// ChapterLedger is the per-chapter character continuity record extracted
// after a chapter is persisted.
type ChapterLedger struct {
	Characters []CharacterState `json:"characters"`
}

// CharacterState is one character's voice and emotional state as of a
// chapter.
type CharacterState struct {
	Name           string   `json:"name"`
	EmotionalState string   `json:"emotional_state,omitempty"`
	VoiceNotes     string   `json:"voice_notes,omitempty"`
	Facts          []string `json:"facts,omitempty"`
}

// CountWords counts whitespace-separated words; good enough for targets and
// logging.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Excerpt returns the first n characters of text, cut at a rune boundary.
func Excerpt(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// TailExcerpt returns the last n characters of text, cut at a rune
// boundary.
func TailExcerpt(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
