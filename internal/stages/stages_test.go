package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/storycfg"
)

// fakeCaller scripts model responses by call kind. Each kind holds a queue;
// calls record for inspection.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     []recordedCall
}

type recordedCall struct {
	kind     string
	messages []providers.Message
	opts     modelcall.Options
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: map[string][]string{},
		errs:      map[string]error{},
	}
}

func (f *fakeCaller) push(kind string, texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[kind] = append(f.responses[kind], texts...)
}

func (f *fakeCaller) failWith(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[kind] = err
}

func (f *fakeCaller) Call(ctx context.Context, messages []providers.Message, opts modelcall.Options) (*modelcall.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{kind: opts.Kind, messages: messages, opts: opts})
	if err := f.errs[opts.Kind]; err != nil {
		return nil, err
	}
	q := f.responses[opts.Kind]
	if len(q) == 0 {
		return nil, fmt.Errorf("no scripted response for kind %q", opts.Kind)
	}
	text := q[0]
	f.responses[opts.Kind] = q[1:]
	return &modelcall.Result{
		Text:         text,
		Model:        "test-model",
		InputTokens:  100,
		OutputTokens: 200,
	}, nil
}

func (f *fakeCaller) Model() string { return "test-model" }

func (f *fakeCaller) callsOf(kind string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCaller) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSettings() storycfg.Settings {
	return storycfg.Settings{
		Model:            "test-model",
		QualityThreshold: story.DefaultQualityThreshold,
		MaxRegenerations: 3,
	}
}

func newTestStages(t *testing.T, caller Caller, settings storycfg.Settings) (*Stages, *store.MemStore) {
	t.Helper()
	ms := store.NewMemStore()
	s, err := New(Config{
		Store:    ms,
		Caller:   caller,
		Settings: settings,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, ms
}

func seedStory(t *testing.T, ms *store.MemStore) *story.Story {
	t.Helper()
	st, err := ms.CreateStory(t.Context(), store.StoryDraft{
		Owner:      "user-1",
		OwnerName:  "Noa",
		Title:      "The Glass Harbor",
		Genre:      "fantasy",
		Premise:    "A lighthouse keeper's daughter finds a door in the fog.",
		PremiseRef: "premise-abc",
		AgeRange:   "middle_grade",
	})
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return st
}

func jsonText(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func bibleResponse(t *testing.T) string {
	t.Helper()
	return jsonText(t, map[string]any{
		"world_rules": []string{"iron repels the fog"},
		"protagonist": map[string]any{
			"name":                   "Mira",
			"description":            "a lighthouse keeper's daughter",
			"internal_contradiction": "craves adventure, fears leaving",
			"false_belief":           "her mother left because of her",
			"voice_notes":            "short sentences, dry humor",
		},
		"antagonist": map[string]any{
			"name":                "The Warden",
			"sympathetic_element": "protects the town the only way he knows",
		},
		"supporting_characters": []map[string]any{
			{"name": "Tam", "role": "best friend", "description": "talks too much, loyal"},
		},
		"central_conflict": "the fog is swallowing the harbor",
		"stakes":           "the town disappears by winter",
		"themes":           []string{"belonging"},
		"key_locations":    []map[string]any{{"name": "The Glass Harbor"}},
		"timeline":         "one autumn",
	})
}

func arcResponse(t *testing.T) string {
	t.Helper()
	chapters := make([]map[string]any, 0, story.TotalChapters)
	for i := 1; i <= story.TotalChapters; i++ {
		chapters = append(chapters, map[string]any{
			"chapter_number":    i,
			"title":             fmt.Sprintf("Chapter %d", i),
			"events":            "things happen",
			"chapter_hook":      "and then",
			"word_count_target": 1600,
		})
	}
	return jsonText(t, map[string]any{
		"chapters":        chapters,
		"pacing_notes":    "fast open, slow middle",
		"subplot_threads": []string{"the locket"},
	})
}

func chapterResponse(t *testing.T, n int, content string) string {
	t.Helper()
	return jsonText(t, map[string]any{
		"chapter": map[string]any{
			"chapter_number":        n,
			"title":                 fmt.Sprintf("Chapter %d", n),
			"content":               content,
			"opening_hook":          "opens in motion",
			"closing_hook":          "ends on a pull",
			"key_events":            []string{"the door opens"},
			"character_development": "Mira trusts Tam a little more",
		},
	})
}

func reviewResponse(t *testing.T, score float64) string {
	t.Helper()
	scores := map[string]any{}
	for name := range story.RubricWeights {
		scores[name] = map[string]any{"score": score, "evidence": "quoted line", "fix": "tighten"}
	}
	return jsonText(t, map[string]any{
		"scores":         scores,
		"summary":        "review summary",
		"priority_fixes": []string{"tighten the opening"},
	})
}

// seedBible and seedArc run the real stages with scripted responses so the
// store rows carry the same shapes production writes.
func seedBible(t *testing.T, s *Stages, caller *fakeCaller, st *story.Story) {
	t.Helper()
	caller.push(story.KindBible, bibleResponse(t))
	if err := s.Bible(t.Context(), st); err != nil {
		t.Fatalf("seeding bible: %v", err)
	}
}

func seedArc(t *testing.T, s *Stages, caller *fakeCaller, st *story.Story) {
	t.Helper()
	caller.push(story.KindArc, arcResponse(t))
	if err := s.Arc(t.Context(), st); err != nil {
		t.Fatalf("seeding arc: %v", err)
	}
}
