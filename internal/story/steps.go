package story

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Step tags for Progress.CurrentStep. A story moves forward through
// generating_bible → bible_created → generating_arc → arc_created →
// generating_chapter_N → awaiting_chapter_K_feedback → ... → completed.
// Backward transitions happen only during recovery.
const (
	StepGeneratingBible       = "generating_bible"
	StepBibleCreated          = "bible_created"
	StepGeneratingArc         = "generating_arc"
	StepArcCreated            = "arc_created"
	StepCompleted             = "completed"
	StepGenerationFailed      = "generation_failed"
	StepBibleGenerationFailed = "bible_generation_failed"
	StepPermanentlyFailed     = "permanently_failed"
)

// generatingPrefix covers generating_bible, generating_arc and
// generating_chapter_N.
const generatingPrefix = "generating_"

// Checkpoints are the chapter numbers where the reader is asked for
// feedback before the next batch is written.
var Checkpoints = []int{2, 5, 8}

// StepGeneratingChapter returns the step tag for chapter n.
func StepGeneratingChapter(n int) string {
	return fmt.Sprintf("generating_chapter_%d", n)
}

// StepAwaitingFeedback returns the step tag for a checkpoint (2, 5 or 8).
func StepAwaitingFeedback(checkpoint int) string {
	return fmt.Sprintf("awaiting_chapter_%d_feedback", checkpoint)
}

// IsGeneratingStep reports whether the step is any of the generating_*
// states a crash can leave behind.
func IsGeneratingStep(step string) bool {
	return strings.HasPrefix(step, generatingPrefix)
}

// IsTerminalStep reports whether the sweeper must never touch this story
// again.
func IsTerminalStep(step string) bool {
	return step == StepCompleted || step == StepPermanentlyFailed
}

var awaitingRe = regexp.MustCompile(`^awaiting_chapter_(\d+)_feedback$`)

// ParseAwaitingStep extracts the checkpoint from an awaiting step tag.
func ParseAwaitingStep(step string) (int, bool) {
	m := awaitingRe.FindStringSubmatch(step)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var generatingChapterRe = regexp.MustCompile(`^generating_chapter_(\d+)$`)

// ParseGeneratingChapterStep extracts the chapter number from a
// generating_chapter_N tag.
func ParseGeneratingChapterStep(step string) (int, bool) {
	m := generatingChapterRe.FindStringSubmatch(step)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var legacyCompleteRe = regexp.MustCompile(`^chapter_(\d+)_complete$`)

// ParseLegacyCompleteStep recognises the retired chapter_N_complete tag
// that old runs can still carry. The sweeper rewrites it.
func ParseLegacyCompleteStep(step string) (int, bool) {
	m := legacyCompleteRe.FindStringSubmatch(step)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BatchForCheckpoint maps a checkpoint to the chapter batch it unlocks:
// 2 → 4..6, 5 → 7..9, 8 → 10..12.
func BatchForCheckpoint(checkpoint int) (start, end int, ok bool) {
	switch checkpoint {
	case 2:
		return 4, 6, true
	case 5:
		return 7, 9, true
	case 8:
		return 10, 12, true
	default:
		return 0, 0, false
	}
}

// CheckpointForChapter maps a chapter in the feedback-gated range (4-12)
// to the checkpoint whose feedback unlocks it.
func CheckpointForChapter(n int) (int, bool) {
	switch {
	case n >= 4 && n <= 6:
		return 2, true
	case n >= 7 && n <= 9:
		return 5, true
	case n >= 10 && n <= 12:
		return 8, true
	default:
		return 0, false
	}
}

// CheckpointForCount maps a batch-boundary chapter count to the checkpoint
// whose feedback unlocks the next batch: 3 → 2, 6 → 5, 9 → 8.
func CheckpointForCount(count int) (int, bool) {
	switch count {
	case 3:
		return 2, true
	case 6:
		return 5, true
	case 9:
		return 8, true
	default:
		return 0, false
	}
}

// StepForChapterCount returns the resting step for a story that has count
// chapters persisted and no work in flight: a batch boundary maps to the
// awaiting step, twelve chapters means completed, anything else resumes at
// the next chapter.
func StepForChapterCount(count int) string {
	if count >= TotalChapters {
		return StepCompleted
	}
	if cp, ok := CheckpointForCount(count); ok {
		return StepAwaitingFeedback(cp)
	}
	return StepGeneratingChapter(count + 1)
}

// RepairLegacyStep rewrites a chapter_N_complete tag to the step the count
// implies. Returns the input unchanged when it is not a legacy tag.
func RepairLegacyStep(step string) (string, bool) {
	n, ok := ParseLegacyCompleteStep(step)
	if !ok {
		return step, false
	}
	return StepForChapterCount(n), true
}
