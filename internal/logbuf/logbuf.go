// Package logbuf keeps a short ring of recent orchestrator log lines per
// story. Every line is mirrored to slog; on terminal failure the buffered
// tail is flattened into the story's persisted error logs.
package logbuf

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// MaxLines is the ring capacity per story.
	MaxLines = 75

	// IdleTTL is how long an untouched buffer survives before the purge
	// timer drops it.
	IdleTTL = 30 * time.Minute

	// PurgeInterval is how often the background purge runs.
	PurgeInterval = 5 * time.Minute
)

type buffer struct {
	lines        []string
	lastActivity time.Time
}

// Registry maps story IDs to ring buffers of recent log lines.
type Registry struct {
	mu      sync.Mutex
	logger  *slog.Logger
	buffers map[string]*buffer

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates a registry that mirrors lines to the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		buffers: make(map[string]*buffer),
		stop:    make(chan struct{}),
	}
}

// Log buffers an event line for a story and mirrors it to slog at info
// level. title is the story title used as the line prefix; msg typically
// starts with an emoji marker.
func (r *Registry) Log(storyID, title, msg string, args ...any) {
	r.append(storyID, title, msg)
	r.logger.Info(msg, append([]any{"story_id", storyID}, args...)...)
}

// Error buffers an event line and mirrors it to slog at error level.
func (r *Registry) Error(storyID, title, msg string, args ...any) {
	r.append(storyID, title, msg)
	r.logger.Error(msg, append([]any{"story_id", storyID}, args...)...)
}

func (r *Registry) append(storyID, title, msg string) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05"), title, msg)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[storyID]
	if !ok {
		b = &buffer{lines: make([]string, 0, MaxLines)}
		r.buffers[storyID] = b
	}

	b.lines = append(b.lines, line)
	if len(b.lines) > MaxLines {
		b.lines = b.lines[len(b.lines)-MaxLines:]
	}
	b.lastActivity = time.Now()
}

// Flush returns a copy of the buffered lines for a story. The buffer is
// left in place; call Free once the story is finished with it.
func (r *Registry) Flush(storyID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[storyID]
	if !ok {
		return nil
	}
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Free releases the buffer for a story.
func (r *Registry) Free(storyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, storyID)
}

// Len returns the number of buffered lines for a story.
func (r *Registry) Len(storyID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[storyID]
	if !ok {
		return 0
	}
	return len(b.lines)
}

// StartPurge launches the background idle purge. It runs until Stop is
// called and never keeps the process alive on its own.
func (r *Registry) StartPurge() {
	go func() {
		ticker := time.NewTicker(PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				r.purgeIdle(now)
			}
		}
	}()
}

// Stop halts the background purge. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// purgeIdle drops buffers whose last activity is older than IdleTTL.
func (r *Registry) purgeIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, b := range r.buffers {
		if now.Sub(b.lastActivity) > IdleTTL {
			delete(r.buffers, id)
		}
	}
}
