package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runner launches pipeline work in the background, one task per story at a
// time. The API handler and the health sweeper both dispatch through it, so
// the dedupe here is what keeps a sweep from doubling work the API already
// started.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewRunner creates a Runner around the pipeline.
func NewRunner(p *Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: p,
		logger:   logger,
		running:  make(map[string]bool),
	}
}

// StartPipeline launches the opening run for a story. Returns false when
// the story already has a task in flight.
func (r *Runner) StartPipeline(ctx context.Context, storyID string) bool {
	return r.launch(ctx, storyID, "pipeline", func(ctx context.Context) error {
		return r.pipeline.Run(ctx, storyID)
	})
}

// StartCheckpoint launches the batch unlocked by checkpoint feedback.
// Returns false when the story already has a task in flight.
func (r *Runner) StartCheckpoint(ctx context.Context, storyID string, checkpoint int) bool {
	name := fmt.Sprintf("checkpoint_%d", checkpoint)
	return r.launch(ctx, storyID, name, func(ctx context.Context) error {
		return r.pipeline.HandleCheckpoint(ctx, storyID, checkpoint)
	})
}

// Running reports whether the story has a task in flight.
func (r *Runner) Running(storyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[storyID]
}

func (r *Runner) launch(ctx context.Context, storyID, name string, task func(context.Context) error) bool {
	r.mu.Lock()
	if r.running[storyID] {
		r.mu.Unlock()
		return false
	}
	r.running[storyID] = true
	r.mu.Unlock()

	r.logger.Info("task dispatched", "task", name, "story_id", storyID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, storyID)
			r.mu.Unlock()
		}()
		if err := task(ctx); err != nil {
			r.logger.Error("task failed", "task", name, "story_id", storyID, "error", err)
		}
	}()
	return true
}

// Wait blocks until every in-flight task, including spawned cover work,
// has returned. Cancel the context handed to Start* first.
func (r *Runner) Wait() {
	r.wg.Wait()
	r.pipeline.Wait()
}
