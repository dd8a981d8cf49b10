// Package health is the self-healing loop. A periodic sweeper scans for
// stories that are stalled (active but untouched past the stall threshold)
// or errored, classifies the failure, and re-dispatches the work under a
// recovery lease. Transient upstream trouble retries forever; an error
// that keeps coming back burns a small retry budget and is quarantined.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/storycfg"
)

// Dispatcher hands recovered work back to the pipeline. Start methods
// return false when the story already has a task in flight.
type Dispatcher interface {
	StartPipeline(ctx context.Context, storyID string) bool
	StartCheckpoint(ctx context.Context, storyID string, checkpoint int) bool
}

// SettingsSource loads the sweep cadence. Read once per pass so config
// edits apply without a restart.
type SettingsSource func(ctx context.Context) (storycfg.Health, error)

// Config wires a Sweeper.
type Config struct {
	Store      store.Store
	Dispatcher Dispatcher
	Settings   SettingsSource
	Logger     *slog.Logger
}

// Validate checks that required dependencies are set.
func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if c.Settings == nil {
		return fmt.Errorf("settings source is required")
	}
	return nil
}

// Sweeper runs the recovery scan. Passes are serialized: a slow pass
// delays the next tick rather than overlapping it.
type Sweeper struct {
	store    store.Store
	dispatch Dispatcher
	settings SettingsSource
	logger   *slog.Logger

	mu       sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Sweeper from the config.
func New(cfg Config) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweeper config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    cfg.Store,
		dispatch: cfg.Dispatcher,
		settings: cfg.Settings,
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Scanned     int
	Repaired    int // legacy step tags rewritten
	Corrected   int // state drift fixed without regeneration
	Quarantined int // code-bug retry budget exhausted
	Dispatched  int
	Parked      int // boundary race: awaiting step set, nothing dispatched
	Skipped     int
}

// Start launches the periodic loop: one pass immediately, then one per
// configured interval. Stops when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		for {
			h := s.sweepOnce(ctx)
			timer := time.NewTimer(h.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop ends the periodic loop. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) sweepOnce(ctx context.Context) storycfg.Health {
	h, err := s.settings(ctx)
	if err != nil {
		s.logger.Warn("failed to load health settings; using defaults", "error", err)
	}
	h = normalize(h)
	stats := s.sweep(ctx, h)
	if stats.Scanned > 0 {
		s.logger.Info("health sweep finished",
			"scanned", stats.Scanned,
			"dispatched", stats.Dispatched,
			"corrected", stats.Corrected,
			"repaired", stats.Repaired,
			"parked", stats.Parked,
			"quarantined", stats.Quarantined)
	}
	return h
}

// Sweep runs a single pass with freshly loaded settings. Exposed for the
// serve command's first-pass-at-start call and for operator tooling.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	h, err := s.settings(ctx)
	if err != nil {
		s.logger.Warn("failed to load health settings; using defaults", "error", err)
	}
	return s.sweep(ctx, normalize(h))
}

func (s *Sweeper) sweep(ctx context.Context, h storycfg.Health) SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SweepStats
	now := time.Now().UTC()

	active, err := s.store.ActiveStories(ctx)
	if err != nil {
		s.logger.Error("health sweep failed to list active stories", "error", err)
		return stats
	}
	errored, err := s.store.ErroredStories(ctx)
	if err != nil {
		s.logger.Error("health sweep failed to list errored stories", "error", err)
		return stats
	}
	for _, st := range append(active, errored...) {
		s.examine(ctx, st, h, now, &stats)
	}
	return stats
}

func (s *Sweeper) examine(ctx context.Context, st *story.Story, h storycfg.Health, now time.Time, stats *SweepStats) {
	pr := st.Progress
	stats.Scanned++

	// Terminal states are absorbing.
	if story.IsTerminalStep(pr.CurrentStep) {
		stats.Skipped++
		return
	}

	// Orphan repair happens on every pass, before any other decision.
	if repaired, ok := story.RepairLegacyStep(pr.CurrentStep); ok {
		s.repairLegacy(ctx, st, repaired, stats)
		return
	}

	// Active stories must look stalled and be at a step a crash can leave
	// behind. Errored stories are always worth a look.
	if st.Status == story.StatusActive {
		if now.Sub(pr.LastUpdatedTime()) <= h.StallThreshold || !recoverableStep(pr.CurrentStep) {
			stats.Skipped++
			return
		}
	}

	if pr.RecoveryLocked(now, h.LockDuration) {
		stats.Skipped++
		return
	}

	// Retry gate: transient upstream failures are always eligible; an
	// error that is not transient gets CodeErrorRetryCap recoveries
	// before the story is quarantined.
	if !providers.TransientMessage(pr.LastError) && pr.HealthCheckRetries >= h.CodeErrorRetryCap {
		s.quarantine(ctx, st, stats)
		return
	}

	// State drift: chapters persisted but never counted mean the crash
	// hit after the chapter landed. Correct the record, do not rewrite.
	count, err := s.store.CountChapters(ctx, st.ID)
	if err != nil {
		s.logger.Warn("health sweep failed to count chapters", "story_id", st.ID, "error", err)
		stats.Skipped++
		return
	}
	if count > pr.ChaptersGenerated {
		s.correctDrift(ctx, st, count, stats)
		return
	}

	if !s.acquire(ctx, st, now) {
		stats.Skipped++
		return
	}
	s.dispatchRecovery(ctx, st, pr, count, stats)
}

// acquire takes the recovery lease: timestamp the lock, count the
// recovery, reset status, clear the stored error.
func (s *Sweeper) acquire(ctx context.Context, st *story.Story, now time.Time) bool {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.RecoveryStarted = now.Format(time.RFC3339)
		p.HealthCheckRetries++
		p.LastError = ""
	})
	if err != nil {
		s.logger.Error("failed to acquire recovery lock", "story_id", st.ID, "error", err)
		return false
	}
	if err := s.store.SetStatus(ctx, st.ID, story.StatusActive); err != nil {
		s.logger.Error("failed to reset status for recovery", "story_id", st.ID, "error", err)
	}
	return true
}

func (s *Sweeper) dispatchRecovery(ctx context.Context, st *story.Story, pr story.Progress, count int, stats *SweepStats) {
	// A batch window on the progress row means a checkpoint batch died
	// mid-flight; resume it.
	if pr.HasBatch() {
		cp, ok := story.CheckpointForChapter(pr.BatchStart)
		if !ok {
			s.logger.Error("batch window does not map to a checkpoint",
				"story_id", st.ID, "batch_start", pr.BatchStart)
			s.releaseLock(ctx, st.ID)
			stats.Skipped++
			return
		}
		s.start(ctx, st, fmt.Sprintf("checkpoint_%d", cp), stats, func() bool {
			return s.dispatch.StartCheckpoint(ctx, st.ID, cp)
		})
		return
	}

	// Opening phase: bible, arc, chapters 1-3.
	if count < story.InitialBatchEnd {
		s.start(ctx, st, "pipeline", stats, func() bool {
			return s.dispatch.StartPipeline(ctx, st.ID)
		})
		return
	}

	// Batch boundary with no window: either the reader's feedback is in
	// and the next batch can start, or the crash hit the split second
	// between "batch finished" and "awaiting state set".
	if cp, ok := story.CheckpointForCount(count); ok {
		_, err := s.store.FeedbackForCheckpoint(ctx, st.ID, cp)
		switch {
		case err == nil:
			s.start(ctx, st, fmt.Sprintf("checkpoint_%d", cp), stats, func() bool {
				return s.dispatch.StartCheckpoint(ctx, st.ID, cp)
			})
		case errors.Is(err, store.ErrNotFound):
			s.park(ctx, st, story.StepAwaitingFeedback(cp), stats)
		default:
			s.logger.Warn("health sweep failed to load feedback",
				"story_id", st.ID, "checkpoint", cp, "error", err)
			s.releaseLock(ctx, st.ID)
			stats.Skipped++
		}
		return
	}

	// Mid-batch count without a window: derive the batch from the next
	// chapter due.
	if cp, ok := story.CheckpointForChapter(count + 1); ok {
		s.start(ctx, st, fmt.Sprintf("checkpoint_%d", cp), stats, func() bool {
			return s.dispatch.StartCheckpoint(ctx, st.ID, cp)
		})
		return
	}

	// Twelve chapters down: close the book.
	s.park(ctx, st, story.StepCompleted, stats)
}

func (s *Sweeper) start(ctx context.Context, st *story.Story, task string, stats *SweepStats, launch func() bool) {
	if !launch() {
		// Already running; that task's exit path owns the lock.
		stats.Skipped++
		return
	}
	stats.Dispatched++
	s.logger.Info("recovery dispatched", "story_id", st.ID, "title", st.Title,
		"task", task, "step", st.Progress.CurrentStep, "retries", st.Progress.HealthCheckRetries+1)
}

// park rests the story at step with no work dispatched, releasing the lock
// and stale batch markers.
func (s *Sweeper) park(ctx context.Context, st *story.Story, step string, stats *SweepStats) {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.CurrentStep = step
		p.RecoveryStarted = ""
		p.BatchStart, p.BatchEnd = 0, 0
	})
	if err != nil {
		s.logger.Error("failed to park story", "story_id", st.ID, "step", step, "error", err)
		return
	}
	status := story.StatusActive
	if step == story.StepCompleted {
		status = story.StatusCompleted
	}
	if err := s.store.SetStatus(ctx, st.ID, status); err != nil {
		s.logger.Error("failed to set status", "story_id", st.ID, "error", err)
	}
	stats.Parked++
	s.logger.Info("story parked", "story_id", st.ID, "title", st.Title, "step", step)
}

// correctDrift reconciles the progress record with the chapters that
// actually landed. No generation runs; the step moves to wherever the
// real count says the story is resting.
func (s *Sweeper) correctDrift(ctx context.Context, st *story.Story, count int, stats *SweepStats) {
	next := story.StepForChapterCount(count)
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.ChaptersGenerated = count
		p.CurrentStep = next
		p.HealthCheckRetries = 0
		p.RecoveryStarted = ""
	})
	if err != nil {
		s.logger.Error("failed to correct state drift", "story_id", st.ID, "error", err)
		return
	}
	status := story.StatusActive
	if next == story.StepCompleted {
		status = story.StatusCompleted
	}
	if err := s.store.SetStatus(ctx, st.ID, status); err != nil {
		s.logger.Error("failed to set status", "story_id", st.ID, "error", err)
	}
	stats.Corrected++
	s.logger.Info("state drift corrected", "story_id", st.ID, "title", st.Title,
		"chapters", count, "step", next)
}

func (s *Sweeper) repairLegacy(ctx context.Context, st *story.Story, step string, stats *SweepStats) {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.CurrentStep = step
	})
	if err != nil {
		s.logger.Error("failed to repair legacy step", "story_id", st.ID, "error", err)
		return
	}
	if step == story.StepCompleted {
		if err := s.store.SetStatus(ctx, st.ID, story.StatusCompleted); err != nil {
			s.logger.Error("failed to set status", "story_id", st.ID, "error", err)
		}
	}
	stats.Repaired++
	s.logger.Info("legacy step repaired", "story_id", st.ID, "title", st.Title, "step", step)
}

// quarantine parks a story whose non-transient error outlived its retry
// budget. permanently_failed is absorbing; only an operator can move the
// story again.
func (s *Sweeper) quarantine(ctx context.Context, st *story.Story, stats *SweepStats) {
	if err := s.store.SetStatus(ctx, st.ID, story.StatusError); err != nil {
		s.logger.Error("failed to set status", "story_id", st.ID, "error", err)
	}
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.CurrentStep = story.StepPermanentlyFailed
	})
	if err != nil {
		s.logger.Error("failed to quarantine story", "story_id", st.ID, "error", err)
		return
	}
	stats.Quarantined++
	s.logger.Error("story quarantined by health sweep", "story_id", st.ID,
		"title", st.Title, "last_error", st.Progress.LastError,
		"retries", st.Progress.HealthCheckRetries)
}

func (s *Sweeper) releaseLock(ctx context.Context, storyID string) {
	if err := s.store.ClearRecoveryLock(ctx, storyID); err != nil {
		s.logger.Warn("failed to clear recovery lock", "story_id", storyID, "error", err)
	}
}

// recoverableStep reports whether an active story's step is one a
// mid-pipeline crash can leave behind.
func recoverableStep(step string) bool {
	if story.IsGeneratingStep(step) {
		return true
	}
	switch step {
	case story.StepBibleCreated, story.StepArcCreated,
		story.StepBibleGenerationFailed, story.StepGenerationFailed:
		return true
	}
	return false
}

func normalize(h storycfg.Health) storycfg.Health {
	if h.Interval <= 0 {
		h.Interval = 5 * time.Minute
	}
	if h.StallThreshold <= 0 {
		h.StallThreshold = 10 * time.Minute
	}
	if h.LockDuration <= 0 {
		h.LockDuration = 20 * time.Minute
	}
	if h.CodeErrorRetryCap <= 0 {
		h.CodeErrorRetryCap = 2
	}
	return h
}
