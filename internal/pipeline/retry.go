package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fablewright/fable/internal/story"
)

const (
	// MaxStepRetries is the number of retries after the first attempt;
	// every step gets MaxStepRetries+1 tries before it is marked failed.
	MaxStepRetries = 2

	// backoffUnit scales the pause between attempts: the n-th failure is
	// followed by an n x backoffUnit wait.
	backoffUnit = 15 * time.Second
)

// StageFunc is one durable unit of pipeline work.
type StageFunc func(ctx context.Context) error

// retryStep runs fn up to MaxStepRetries+1 times, recording each failure
// on the story's progress row. Two paths end the step early:
//
//   - Same-error circuit breaker: the identical error message on
//     consecutive attempts means a deterministic bug, not bad luck.
//     The story is quarantined (status error, permanently_failed,
//     repeated_error) without burning the remaining attempts.
//   - Exhaustion: after the last attempt the story is parked at failStep
//     with status error, where the health sweeper can pick it up.
//
// Both paths flush the story's log buffer into error_logs and return the
// wrapped stage error.
func (p *Pipeline) retryStep(ctx context.Context, st *story.Story, name, failStep string, fn StageFunc) error {
	var prev string
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		msg := err.Error()
		p.buf.Error(st.ID, st.Title, "step failed", "step", name, "attempt", attempt, "error", msg)
		p.recordFailure(st, msg)

		if attempt >= 2 && msg == prev {
			p.quarantine(st, msg)
			return fmt.Errorf("step %s quarantined after repeated error: %w", name, err)
		}
		prev = msg

		if attempt == MaxStepRetries+1 {
			p.markStepFailed(st, failStep)
			return fmt.Errorf("step %s failed after %d attempts: %w", name, attempt, err)
		}

		if serr := sleep(ctx, time.Duration(attempt)*p.backoff); serr != nil {
			// Shutdown mid-backoff. The failure is already recorded;
			// the sweeper resumes the story later.
			return fmt.Errorf("step %s interrupted during backoff: %w", name, serr)
		}
	}
}

// recordFailure writes the per-attempt bookkeeping: last_error,
// last_error_at, retry_count. Uses a fresh context so a cancelled run can
// still leave its trace for the sweeper.
func (p *Pipeline) recordFailure(st *story.Story, msg string) {
	_, err := p.store.UpdateProgress(context.Background(), st.ID, func(pr *story.Progress) {
		pr.LastError = msg
		pr.LastErrorAt = time.Now().UTC().Format(time.RFC3339)
		pr.RetryCount++
	})
	if err != nil {
		p.logger.Warn("failed to record step failure", "story_id", st.ID, "error", err)
	}
}

// quarantine parks a story whose step failed twice with the identical
// error. The sweeper treats permanently_failed as terminal, so nothing
// touches the story again until a human looks at error_logs.
func (p *Pipeline) quarantine(st *story.Story, msg string) {
	ctx := context.Background()
	logs := p.buf.Flush(st.ID)
	if err := p.store.SetStatus(ctx, st.ID, story.StatusError); err != nil {
		p.logger.Error("failed to set error status", "story_id", st.ID, "error", err)
	}
	_, err := p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.CurrentStep = story.StepPermanentlyFailed
		pr.RepeatedError = true
		pr.ErrorLogs = logs
	})
	if err != nil {
		p.logger.Error("failed to quarantine story", "story_id", st.ID, "error", err)
	}
	p.logger.Error("story quarantined after repeated error",
		"story_id", st.ID, "title", st.Title, "error", msg)
}

// markStepFailed parks a story whose retries ran out. failStep is
// bible_generation_failed for the bible step and generation_failed for
// everything after it; both are recoverable.
func (p *Pipeline) markStepFailed(st *story.Story, failStep string) {
	ctx := context.Background()
	logs := p.buf.Flush(st.ID)
	if err := p.store.SetStatus(ctx, st.ID, story.StatusError); err != nil {
		p.logger.Error("failed to set error status", "story_id", st.ID, "error", err)
	}
	_, err := p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.CurrentStep = failStep
		pr.ErrorLogs = logs
	})
	if err != nil {
		p.logger.Error("failed to mark step failed", "story_id", st.ID, "error", err)
	}
}
