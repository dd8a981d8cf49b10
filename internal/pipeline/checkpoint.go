package pipeline

import (
	"context"
	"fmt"

	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/storycfg"
)

// HandleCheckpoint writes the chapter batch a reader's checkpoint feedback
// unlocks: checkpoint 2 opens chapters 4-6, 5 opens 7-9, 8 opens 10-12.
// Like Run it is resumable; chapters already persisted are skipped by the
// stage's own idempotence check.
func (p *Pipeline) HandleCheckpoint(ctx context.Context, storyID string, checkpoint int) error {
	start, end, ok := story.BatchForCheckpoint(checkpoint)
	if !ok {
		return fmt.Errorf("no chapter batch for checkpoint %d", checkpoint)
	}
	stager, settings, err := p.stages(ctx)
	if err != nil {
		return fmt.Errorf("failed to build stages: %w", err)
	}
	st, err := p.store.LoadStory(ctx, storyID)
	if err != nil {
		return fmt.Errorf("failed to load story: %w", err)
	}
	defer p.releaseLock(st.ID)

	p.buf.Log(st.ID, st.Title, "checkpoint batch started",
		"checkpoint", checkpoint, "first", start, "last", end)
	p.maybeSpawnCover(ctx, st)

	if err := p.runBatch(ctx, stager, settings, st, checkpoint, start, end); err != nil {
		p.captureFailure(st, err)
		return err
	}
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, stager Stager, settings storycfg.Settings, st *story.Story, checkpoint, start, end int) error {
	fb, err := p.store.FeedbackForCheckpoint(ctx, st.ID, checkpoint)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint %d feedback: %w", checkpoint, err)
	}
	// Rows written by older clients can carry a raw transcript without
	// structured dimensions. Reduce before the brief reads it.
	if fb.Transcript != "" && !fb.HasDimensions() {
		if err := stager.ReduceTranscript(ctx, st, fb); err != nil {
			p.logger.Warn("transcript reduction failed; treating feedback as neutral",
				"story_id", st.ID, "checkpoint", checkpoint, "error", err)
		}
	}

	// The brief is course correction, not a gate: a failure here must not
	// block the batch the reader already unlocked.
	brief, err := stager.EditorBrief(ctx, st, fb)
	if err != nil {
		p.logger.Warn("editor brief failed; writing batch without it",
			"story_id", st.ID, "checkpoint", checkpoint, "error", err)
		p.buf.Error(st.ID, st.Title, "editor brief failed", "error", err)
		brief = nil
	}

	// Batch markers go down before any chapter work so a crash mid-batch
	// tells the sweeper which window to resume.
	_, err = p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.BatchStart, pr.BatchEnd = start, end
	})
	if err != nil {
		return fmt.Errorf("failed to set batch window: %w", err)
	}

	fresh, err := p.store.LoadStory(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("failed to reload story: %w", err)
	}
	first := start
	if fresh.Progress.ChaptersGenerated >= first {
		first = fresh.Progress.ChaptersGenerated + 1
	}
	for n := first; n <= end; n++ {
		if err := p.writeChapter(ctx, stager, st, n, brief); err != nil {
			return err
		}
		if n < end {
			if err := sleep(ctx, settings.InterChapterDelay); err != nil {
				return err
			}
		}
	}
	return p.rest(ctx, st)
}
