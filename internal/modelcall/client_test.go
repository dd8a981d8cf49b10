package modelcall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

type mockRecorder struct {
	mu      sync.Mutex
	records []story.CostRecord
}

func (m *mockRecorder) InsertCostRecord(_ context.Context, rec story.CostRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *mockRecorder) all() []story.CostRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]story.CostRecord, len(m.records))
	copy(out, m.records)
	return out
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

// shortDelays collapses the backoff schedule so retry tests run fast.
func shortDelays(t *testing.T) {
	t.Helper()
	saved := backoffSchedule
	backoffSchedule = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { backoffSchedule = saved })
}

func TestClient_Call_Success(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Enqueue(`{"title": "A"}`)

	rec := &mockRecorder{}
	client := New(mock, "test-model", story.Pricing{InputPerMillion: 3, OutputPerMillion: 15}, rec, testLogger())

	res, err := client.Call(t.Context(), []providers.Message{
		{Role: "user", Content: "write me a bible"},
	}, Options{Title: "T", StoryID: "s1", Kind: story.KindBible})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if res.Text != `{"title": "A"}` {
		t.Errorf("Text = %q", res.Text)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("recorded %d cost records, want 1", len(records))
	}
	r := records[0]
	if !r.Success {
		t.Error("cost record should be marked success")
	}
	if r.Kind != story.KindBible {
		t.Errorf("Kind = %q, want %q", r.Kind, story.KindBible)
	}
	if r.StoryID != "s1" {
		t.Errorf("StoryID = %q, want s1", r.StoryID)
	}
}

func TestClient_Call_TransientRetriesThenSuccess(t *testing.T) {
	shortDelays(t)

	mock := providers.NewMockClient()
	mock.EnqueueError(errors.New("upstream status 529 overloaded"))
	mock.EnqueueError(errors.New("rate limit exceeded"))
	mock.EnqueueError(errors.New("connection reset by peer"))
	mock.Enqueue(`{"ok": true}`)

	rec := &mockRecorder{}
	client := New(mock, "test-model", story.Pricing{InputPerMillion: 3, OutputPerMillion: 15}, rec, testLogger())

	res, err := client.Call(t.Context(), []providers.Message{
		{Role: "user", Content: "hello"},
	}, Options{Title: "T", StoryID: "s1", Kind: story.KindChapter})
	if err != nil {
		t.Fatalf("Call() error = %v, want success on fourth attempt", err)
	}
	if res == nil || res.Text != `{"ok": true}` {
		t.Fatalf("unexpected result: %+v", res)
	}

	if got := mock.RequestCount(); got != 4 {
		t.Errorf("upstream saw %d requests, want 4", got)
	}

	// Exactly one cost record, for the success.
	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("recorded %d cost records, want 1", len(records))
	}
	if !records[0].Success {
		t.Error("cost record should be the successful call")
	}
}

func TestClient_Call_PermanentNoRetry(t *testing.T) {
	shortDelays(t)

	mock := providers.NewMockClient()
	mock.EnqueueError(errors.New("invalid request: bad schema"))

	rec := &mockRecorder{}
	client := New(mock, "test-model", story.Pricing{}, rec, testLogger())

	_, err := client.Call(t.Context(), []providers.Message{
		{Role: "user", Content: "hello"},
	}, Options{Title: "T", StoryID: "s1", Kind: story.KindChapter})
	if err == nil {
		t.Fatal("Call() should fail on permanent error")
	}

	if got := mock.RequestCount(); got != 1 {
		t.Errorf("upstream saw %d requests, want 1 (no retry on permanent errors)", got)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("recorded %d cost records, want 1 failure record", len(records))
	}
	if records[0].Success {
		t.Error("failure record should not be marked success")
	}
	if records[0].ErrorType != "permanent" {
		t.Errorf("ErrorType = %q, want permanent", records[0].ErrorType)
	}
}

func TestClient_Call_TransientExhaustion(t *testing.T) {
	shortDelays(t)

	mock := providers.NewMockClient()
	for i := 0; i < MaxAttempts; i++ {
		mock.EnqueueError(errors.New("service unavailable"))
	}

	rec := &mockRecorder{}
	client := New(mock, "test-model", story.Pricing{}, rec, testLogger())

	_, err := client.Call(t.Context(), []providers.Message{
		{Role: "user", Content: "hello"},
	}, Options{Title: "T", StoryID: "s1", Kind: story.KindChapter})
	if err == nil {
		t.Fatal("Call() should fail after exhausting attempts")
	}

	if got := mock.RequestCount(); got != MaxAttempts {
		t.Errorf("upstream saw %d requests, want %d", got, MaxAttempts)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("recorded %d cost records, want 1", len(records))
	}
	if records[0].ErrorType != "transient" {
		t.Errorf("ErrorType = %q, want transient", records[0].ErrorType)
	}
}

func TestClient_Call_PricingFallback(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Enqueue("a response that is exactly forty characters")

	pricing := story.Pricing{InputPerMillion: 3, OutputPerMillion: 15}
	rec := &mockRecorder{}
	client := New(mock, "test-model", pricing, rec, testLogger())

	res, err := client.Call(t.Context(), []providers.Message{
		{Role: "user", Content: "prompt text here"},
	}, Options{Title: "T", StoryID: "s1", Kind: story.KindReview})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// The mock reports no cost, so the client must compute one from pricing.
	want := pricing.Cost(res.InputTokens, res.OutputTokens)
	if res.CostUSD != want {
		t.Errorf("CostUSD = %v, want %v", res.CostUSD, want)
	}
	if res.CostUSD <= 0 {
		t.Error("expected a positive computed cost")
	}
}

func TestClient_Call_NilRecorder(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Enqueue("ok")

	client := New(mock, "test-model", story.Pricing{}, nil, testLogger())

	// Must not panic without a recorder.
	if _, err := client.Call(t.Context(), []providers.Message{{Role: "user", Content: "x"}}, Options{}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("model overloaded, try again")) {
		t.Error("overloaded should be transient")
	}
	if IsTransient(errors.New("invalid api key")) {
		t.Error("auth failure should not be transient")
	}
}
