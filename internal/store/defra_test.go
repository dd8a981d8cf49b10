package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fablewright/fable/internal/defra"
	"github.com/fablewright/fable/internal/story"
)

// recordingDefraServer simulates DefraDB and keeps every request it saw so
// tests can assert on queries and mutations.
type recordingDefraServer struct {
	mu       sync.Mutex
	requests []defra.GQLRequest
	server   *httptest.Server
}

func newRecordingDefraServer(t *testing.T, handler func(req defra.GQLRequest) map[string]any) *recordingDefraServer {
	t.Helper()
	rec := &recordingDefraServer{}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, req)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(defra.GQLResponse{Data: handler(req)})
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

func (r *recordingDefraServer) queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.requests))
	for i, req := range r.requests {
		out[i] = req.Query
	}
	return out
}

func (r *recordingDefraServer) findQuery(substr string) (defra.GQLRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if strings.Contains(req.Query, substr) {
			return req, true
		}
	}
	return defra.GQLRequest{}, false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefraStore_CreateStory(t *testing.T) {
	t.Run("new_story", func(t *testing.T) {
		srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
			if strings.HasPrefix(strings.TrimSpace(req.Query), "mutation") {
				return map[string]any{
					"create_Story": []any{map[string]any{"_docID": "bae-new"}},
				}
			}
			return map[string]any{"Story": []any{}}
		})

		s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())
		st, err := s.CreateStory(t.Context(), StoryDraft{
			Owner:      "user-1",
			Premise:    "a keeper finds a door",
			PremiseRef: "premise-abc",
		})
		if err != nil {
			t.Fatalf("CreateStory() error = %v", err)
		}
		if st.ID != "bae-new" {
			t.Errorf("ID = %q, want bae-new", st.ID)
		}
		if st.Progress.CurrentStep != story.StepGeneratingBible {
			t.Errorf("CurrentStep = %q, want %q", st.Progress.CurrentStep, story.StepGeneratingBible)
		}

		// The duplicate check must run before the create mutation.
		queries := srv.queries()
		if len(queries) != 2 {
			t.Fatalf("saw %d requests, want duplicate check + create", len(queries))
		}
		if !strings.Contains(queries[0], "premise_ref") {
			t.Errorf("first request %q is not the duplicate check", queries[0])
		}
		if !strings.Contains(queries[1], "create_Story") {
			t.Errorf("second request %q is not the create", queries[1])
		}
	})

	t.Run("existing_story_returned", func(t *testing.T) {
		srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
			if strings.HasPrefix(strings.TrimSpace(req.Query), "mutation") {
				t.Error("create mutation issued for an existing story")
			}
			return map[string]any{
				"Story": []any{map[string]any{
					"_docID":      "bae-existing",
					"owner":       "user-1",
					"premise_ref": "premise-abc",
					"status":      story.StatusActive,
					"progress":    `{"current_step":"bible_created","bible_complete":true}`,
				}},
			}
		})

		s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())
		st, err := s.CreateStory(t.Context(), StoryDraft{Owner: "user-1", PremiseRef: "premise-abc"})
		if err != nil {
			t.Fatalf("CreateStory() error = %v", err)
		}
		if st.ID != "bae-existing" {
			t.Errorf("ID = %q, want the existing bae-existing", st.ID)
		}
		if !st.Progress.BibleComplete {
			t.Error("existing progress not parsed")
		}
	})
}

func TestDefraStore_LoadStory(t *testing.T) {
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		if strings.Contains(req.Query, `docID: "bae-story-1"`) {
			return map[string]any{
				"Story": []any{map[string]any{
					"_docID": "bae-story-1",
					"title":  "The Door Below",
					"status": story.StatusActive,
				}},
			}
		}
		return map[string]any{"Story": []any{}}
	})

	s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())

	st, err := s.LoadStory(t.Context(), "bae-story-1")
	if err != nil {
		t.Fatalf("LoadStory() error = %v", err)
	}
	if st.Title != "The Door Below" {
		t.Errorf("Title = %q, want The Door Below", st.Title)
	}

	t.Run("not_found", func(t *testing.T) {
		_, err := s.LoadStory(t.Context(), "bae-missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadStory() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejects_unsafe_id", func(t *testing.T) {
		_, err := s.LoadStory(t.Context(), `x") { } evil`)
		if err == nil {
			t.Error("LoadStory() accepted an injectable ID")
		}
	})
}

func TestDefraStore_UpdateProgress(t *testing.T) {
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		if strings.HasPrefix(strings.TrimSpace(req.Query), "mutation") {
			return map[string]any{
				"update_Story": []any{map[string]any{"_docID": "bae-story-1"}},
			}
		}
		return map[string]any{
			"Story": []any{map[string]any{
				"_docID":   "bae-story-1",
				"status":   story.StatusActive,
				"progress": `{"current_step":"generating_chapter_2","chapters_generated":1,"last_updated":"2026-01-01T00:00:00Z"}`,
			}},
		}
	})

	s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())

	p, err := s.UpdateProgress(t.Context(), "bae-story-1", func(p *story.Progress) {
		p.ChaptersGenerated = 2
		p.CurrentStep = story.StepAwaitingFeedback(2)
	})
	if err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if p.ChaptersGenerated != 2 {
		t.Errorf("ChaptersGenerated = %d, want 2", p.ChaptersGenerated)
	}
	if p.LastUpdated == "2026-01-01T00:00:00Z" {
		t.Error("LastUpdated not bumped")
	}

	mutation, ok := srv.findQuery("update_Story")
	if !ok {
		t.Fatal("no update mutation issued")
	}
	if !strings.Contains(mutation.Query, "awaiting_chapter_2_feedback") {
		t.Errorf("mutation does not carry the new step: %s", mutation.Query)
	}
	if !strings.Contains(mutation.Query, "updated_at") {
		t.Errorf("mutation does not bump updated_at: %s", mutation.Query)
	}
}

func TestDefraStore_LoadLatestArc(t *testing.T) {
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		return map[string]any{
			"Arc": []any{map[string]any{
				"_docID":     "bae-arc-2",
				"story_id":   "bae-story-1",
				"arc_number": float64(1),
				"content":    `{"chapters":[{"chapter_number":1,"title":"Arrival"}],"pacing_notes":"x","subplot_threads":[]}`,
			}},
		}
	})

	s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())

	arc, err := s.LoadLatestArc(t.Context(), "bae-story-1")
	if err != nil {
		t.Fatalf("LoadLatestArc() error = %v", err)
	}
	if arc.ID != "bae-arc-2" {
		t.Errorf("ID = %q, want bae-arc-2", arc.ID)
	}
	if len(arc.Content.Chapters) != 1 {
		t.Errorf("outline chapters = %d, want 1", len(arc.Content.Chapters))
	}

	req, ok := srv.findQuery("order: {created_at: DESC}")
	if !ok {
		t.Fatal("arc query does not order newest-first")
	}
	if !strings.Contains(req.Query, "limit: 1") {
		t.Errorf("arc query does not limit to one row: %s", req.Query)
	}
}

func TestDefraStore_InsertBible(t *testing.T) {
	var sawBibleRefUpdate bool
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		q := strings.TrimSpace(req.Query)
		switch {
		case strings.Contains(q, "create_Bible"):
			return map[string]any{"create_Bible": []any{map[string]any{"_docID": "bae-bible-1"}}}
		case strings.Contains(q, "update_Story"):
			if strings.Contains(q, "bible_ref") {
				sawBibleRefUpdate = true
			}
			return map[string]any{"update_Story": []any{map[string]any{"_docID": "bae-story-1"}}}
		default:
			return map[string]any{"Bible": []any{}}
		}
	})

	s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())

	rec, err := s.InsertBible(t.Context(), &story.BibleRecord{
		StoryID: "bae-story-1",
		Version: 1,
		Content: story.Bible{Protagonist: story.Protagonist{Name: "Isla"}},
	})
	if err != nil {
		t.Fatalf("InsertBible() error = %v", err)
	}
	if rec.ID != "bae-bible-1" {
		t.Errorf("ID = %q, want bae-bible-1", rec.ID)
	}
	if !sawBibleRefUpdate {
		t.Error("story row's bible_ref was not set")
	}
}

func TestDefraStore_InsertCostRecord_NilSink(t *testing.T) {
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		return map[string]any{"create_CostRecord": []any{map[string]any{"_docID": "bae-cost-1"}}}
	})

	s := NewDefraStore(defra.NewClient(srv.server.URL), nil, discardLogger())

	s.InsertCostRecord(t.Context(), story.CostRecord{
		StoryID: "bae-story-1",
		Kind:    story.KindBible,
		Success: true,
	})

	if _, ok := srv.findQuery("create_CostRecord"); !ok {
		t.Error("cost record not written synchronously without a sink")
	}
}

func TestDefraStore_InsertCostRecord_Sink(t *testing.T) {
	srv := newRecordingDefraServer(t, func(req defra.GQLRequest) map[string]any {
		return map[string]any{"create_CostRecord": []any{map[string]any{"_docID": "bae-cost-1"}}}
	})

	client := defra.NewClient(srv.server.URL)
	sink := defra.NewSink(defra.SinkConfig{
		Client:    client,
		BatchSize: 1,
		Logger:    discardLogger(),
	})
	sink.Start(t.Context())
	defer sink.Stop()

	s := NewDefraStore(client, sink, discardLogger())
	s.InsertCostRecord(t.Context(), story.CostRecord{StoryID: "bae-story-1", Kind: story.KindChapter})
	if err := sink.Flush(t.Context()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if _, ok := srv.findQuery("create_CostRecord"); !ok {
		t.Error("cost record did not reach the store through the sink")
	}
}
