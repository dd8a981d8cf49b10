package logbuf

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testRegistry() *Registry {
	// Discard mirror output in tests
	return NewRegistry(slog.New(slog.NewTextHandler(discard{}, nil)))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRegistry_LogAndFlush(t *testing.T) {
	r := testRegistry()

	r.Log("story-1", "The Moonlit Harbor", "📖 Generating bible")
	r.Log("story-1", "The Moonlit Harbor", "✅ Bible complete")

	lines := r.Flush("story-1")
	if len(lines) != 2 {
		t.Fatalf("Flush() returned %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "[The Moonlit Harbor]") {
		t.Errorf("line missing title prefix: %q", lines[0])
	}
	if !strings.Contains(lines[0], "Generating bible") {
		t.Errorf("line missing event text: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Bible complete") {
		t.Errorf("line missing event text: %q", lines[1])
	}
}

func TestRegistry_RingCapacity(t *testing.T) {
	r := testRegistry()

	for i := 0; i < MaxLines+25; i++ {
		r.Log("story-1", "T", fmt.Sprintf("event %d", i))
	}

	lines := r.Flush("story-1")
	if len(lines) != MaxLines {
		t.Fatalf("buffer held %d lines, want %d", len(lines), MaxLines)
	}

	// Oldest lines should have been evicted
	if !strings.Contains(lines[0], "event 25") {
		t.Errorf("oldest retained line = %q, want event 25", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], fmt.Sprintf("event %d", MaxLines+24)) {
		t.Errorf("newest line = %q, want event %d", lines[len(lines)-1], MaxLines+24)
	}
}

func TestRegistry_FlushUnknownStory(t *testing.T) {
	r := testRegistry()
	if lines := r.Flush("nope"); lines != nil {
		t.Errorf("Flush() for unknown story = %v, want nil", lines)
	}
}

func TestRegistry_Free(t *testing.T) {
	r := testRegistry()

	r.Log("story-1", "T", "event")
	if r.Len("story-1") != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len("story-1"))
	}

	r.Free("story-1")
	if r.Len("story-1") != 0 {
		t.Errorf("Len() after Free = %d, want 0", r.Len("story-1"))
	}
	if lines := r.Flush("story-1"); lines != nil {
		t.Errorf("Flush() after Free = %v, want nil", lines)
	}
}

func TestRegistry_PurgeIdle(t *testing.T) {
	r := testRegistry()

	r.Log("old", "T", "event")
	r.Log("fresh", "T", "event")

	// Age the old buffer past the TTL
	r.mu.Lock()
	r.buffers["old"].lastActivity = time.Now().Add(-IdleTTL - time.Minute)
	r.mu.Unlock()

	r.purgeIdle(time.Now())

	if r.Len("old") != 0 {
		t.Error("idle buffer should have been purged")
	}
	if r.Len("fresh") != 1 {
		t.Error("fresh buffer should survive the purge")
	}
}

func TestRegistry_StopIsIdempotent(t *testing.T) {
	r := testRegistry()
	r.StartPurge()
	r.Stop()
	r.Stop() // must not panic
}

func TestRegistry_ConcurrentWriters(t *testing.T) {
	r := testRegistry()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := 0; i < 50; i++ {
				r.Log(fmt.Sprintf("story-%d", g%2), "T", "event")
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	// 4 goroutines per story x 50 events = 200, capped at MaxLines
	if got := r.Len("story-0"); got != MaxLines {
		t.Errorf("story-0 buffer = %d lines, want %d", got, MaxLines)
	}
}
