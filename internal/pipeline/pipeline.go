// Package pipeline drives a story from premise to finished book. It owns
// the ordering and failure discipline around the model-calling stages:
// step retry with a same-error circuit breaker, resumable progress
// bookkeeping, the checkpoint batches unlocked by reader feedback, and
// the cover task spawned alongside chapter writing. The stages know how
// to produce one artifact each; the pipeline knows what order they run
// in and what happens when they fail.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablewright/fable/internal/logbuf"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/storycfg"
)

// Stager runs the model-calling stages. *stages.Stages is the production
// implementation.
type Stager interface {
	Bible(ctx context.Context, st *story.Story) error
	Arc(ctx context.Context, st *story.Story) error
	Chapter(ctx context.Context, st *story.Story, n int, brief *story.EditorBrief) error
	EditorBrief(ctx context.Context, st *story.Story, fb *story.Feedback) (*story.EditorBrief, error)
	ReduceTranscript(ctx context.Context, st *story.Story, fb *story.Feedback) error
}

// StagerFactory builds the stage runner for one pipeline entry. Settings
// are read here, not at process start, so config edits apply to the next
// run without a restart.
type StagerFactory func(ctx context.Context) (Stager, storycfg.Settings, error)

// CoverGenerator renders a cover image and records it on the story row.
type CoverGenerator interface {
	Generate(ctx context.Context, st *story.Story) error
}

// Config wires a Pipeline.
type Config struct {
	Store  store.Store
	Stages StagerFactory
	Buffer *logbuf.Registry
	Covers CoverGenerator // optional; nil disables cover generation
	Logger *slog.Logger
}

// Validate checks that required dependencies are set.
func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Stages == nil {
		return fmt.Errorf("stage factory is required")
	}
	if c.Buffer == nil {
		return fmt.Errorf("log buffer is required")
	}
	return nil
}

// Pipeline executes story generation tasks. Safe for concurrent use across
// distinct stories; the Runner keeps each story to one task at a time.
type Pipeline struct {
	store   store.Store
	stages  StagerFactory
	buf     *logbuf.Registry
	covers  CoverGenerator
	logger  *slog.Logger
	backoff time.Duration

	coverMu sync.Mutex
	covered map[string]bool
	coverWG sync.WaitGroup
}

// New creates a Pipeline from the config.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   cfg.Store,
		stages:  cfg.Stages,
		buf:     cfg.Buffer,
		covers:  cfg.Covers,
		logger:  logger,
		backoff: backoffUnit,
		covered: make(map[string]bool),
	}, nil
}

// Run drives a story from wherever its progress left off through the
// opening batch (bible, arc, chapters 1-3) to the first reader checkpoint.
// Every phase is idempotent, so a run that died halfway can be dispatched
// again and will skip the work that already landed.
func (p *Pipeline) Run(ctx context.Context, storyID string) error {
	stager, settings, err := p.stages(ctx)
	if err != nil {
		return fmt.Errorf("failed to build stages: %w", err)
	}
	st, err := p.store.LoadStory(ctx, storyID)
	if err != nil {
		return fmt.Errorf("failed to load story: %w", err)
	}
	defer p.releaseLock(st.ID)

	p.buf.Log(st.ID, st.Title, "pipeline started", "step", st.Progress.CurrentStep)
	p.maybeSpawnCover(ctx, st)

	if err := p.runOpening(ctx, stager, settings, st); err != nil {
		p.captureFailure(st, err)
		return err
	}
	return nil
}

func (p *Pipeline) runOpening(ctx context.Context, stager Stager, settings storycfg.Settings, st *story.Story) error {
	// Bible and arc check for their own artifacts, so resumed runs pass
	// through here without spending a model call.
	err := p.retryStep(ctx, st, "bible", story.StepBibleGenerationFailed, func(ctx context.Context) error {
		return stager.Bible(ctx, st)
	})
	if err != nil {
		return err
	}
	err = p.retryStep(ctx, st, "arc", story.StepGenerationFailed, func(ctx context.Context) error {
		return stager.Arc(ctx, st)
	})
	if err != nil {
		return err
	}

	fresh, err := p.store.LoadStory(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("failed to reload story: %w", err)
	}
	for n := fresh.Progress.ChaptersGenerated + 1; n <= story.InitialBatchEnd; n++ {
		if err := p.writeChapter(ctx, stager, st, n, nil); err != nil {
			return err
		}
		if n < story.InitialBatchEnd {
			if err := sleep(ctx, settings.InterChapterDelay); err != nil {
				return err
			}
		}
	}
	return p.rest(ctx, st)
}

// writeChapter marks the step and runs the chapter stage under step retry.
// The step tag is set here rather than in the stage so a crash between the
// two writes still points the sweeper at the right chapter.
func (p *Pipeline) writeChapter(ctx context.Context, stager Stager, st *story.Story, n int, brief *story.EditorBrief) error {
	_, err := p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.CurrentStep = story.StepGeneratingChapter(n)
	})
	if err != nil {
		return fmt.Errorf("failed to mark chapter %d in progress: %w", n, err)
	}
	name := fmt.Sprintf("chapter_%d", n)
	return p.retryStep(ctx, st, name, story.StepGenerationFailed, func(ctx context.Context) error {
		return stager.Chapter(ctx, st, n, brief)
	})
}

// rest parks the story at the step its chapter count implies (an awaiting
// checkpoint, or completed after chapter twelve), restores status, and
// frees the log buffer.
func (p *Pipeline) rest(ctx context.Context, st *story.Story) error {
	fresh, err := p.store.LoadStory(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("failed to reload story: %w", err)
	}
	next := story.StepForChapterCount(fresh.Progress.ChaptersGenerated)
	_, err = p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.CurrentStep = next
		pr.BatchStart, pr.BatchEnd = 0, 0
	})
	if err != nil {
		return fmt.Errorf("failed to set resting step: %w", err)
	}
	status := story.StatusActive
	if next == story.StepCompleted {
		status = story.StatusCompleted
	}
	if err := p.store.SetStatus(ctx, st.ID, status); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	p.buf.Log(st.ID, st.Title, "run finished", "step", next)
	p.buf.Free(st.ID)
	p.logger.Info("pipeline run finished", "story_id", st.ID, "title", st.Title, "step", next)
	return nil
}

// captureFailure records a run's terminal error on the story row. Steps
// that already quarantined or failed the story leave status error behind;
// those are not overwritten.
func (p *Pipeline) captureFailure(st *story.Story, cause error) {
	// Bookkeeping must survive a cancelled run context.
	ctx := context.Background()

	fresh, err := p.store.LoadStory(ctx, st.ID)
	if err != nil {
		p.logger.Error("failed to load story after run failure", "story_id", st.ID, "error", err)
		return
	}
	if fresh.Status == story.StatusError {
		return
	}
	logs := p.buf.Flush(st.ID)
	if err := p.store.SetStatus(ctx, st.ID, story.StatusError); err != nil {
		p.logger.Error("failed to set error status", "story_id", st.ID, "error", err)
	}
	_, err = p.store.UpdateProgress(ctx, st.ID, func(pr *story.Progress) {
		pr.CurrentStep = story.StepGenerationFailed
		pr.LastError = cause.Error()
		pr.LastErrorAt = time.Now().UTC().Format(time.RFC3339)
		pr.ErrorLogs = logs
	})
	if err != nil {
		p.logger.Error("failed to record run failure", "story_id", st.ID, "error", err)
	}
}

// releaseLock clears the recovery lease on every exit path. Uses a fresh
// context so shutdown cancellation does not strand the lock for the full
// lease window.
func (p *Pipeline) releaseLock(storyID string) {
	if err := p.store.ClearRecoveryLock(context.Background(), storyID); err != nil {
		p.logger.Warn("failed to clear recovery lock", "story_id", storyID, "error", err)
	}
}

// maybeSpawnCover starts cover generation in parallel with chapter writing.
// At most one spawn per story per process; only when the story has no cover
// yet and its title has been confirmed. Failures are logged, never fail the
// run.
func (p *Pipeline) maybeSpawnCover(ctx context.Context, st *story.Story) {
	if p.covers == nil || st.CoverRef != "" || !st.NameConfirmed {
		return
	}
	p.coverMu.Lock()
	if p.covered[st.ID] {
		p.coverMu.Unlock()
		return
	}
	p.covered[st.ID] = true
	p.coverMu.Unlock()

	p.coverWG.Add(1)
	go func() {
		defer p.coverWG.Done()
		if err := p.covers.Generate(ctx, st); err != nil {
			p.logger.Warn("cover generation failed", "story_id", st.ID, "title", st.Title, "error", err)
			p.buf.Error(st.ID, st.Title, "cover generation failed", "error", err)
		}
	}()
}

// Wait blocks until spawned cover tasks have returned.
func (p *Pipeline) Wait() {
	p.coverWG.Wait()
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
