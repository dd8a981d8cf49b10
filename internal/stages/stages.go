// Package stages implements the model-calling stages of the story
// pipeline: bible, arc and chapter generation, plus the editor brief and
// interview reduction that feed the checkpoint batches. Each stage is
// idempotent against the store: re-running one that already produced its
// artifact corrects progress and returns without a model call.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fablewright/fable/internal/jsongate"
	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/storycfg"
)

// Caller is the slice of the model client the stages use.
type Caller interface {
	Call(ctx context.Context, messages []providers.Message, opts modelcall.Options) (*modelcall.Result, error)
	Model() string
}

// PreferenceProfile is what the preference-analysis collaborator reports
// for a reader.
type PreferenceProfile struct {
	// CompletedWorks is how many finished books back the analysis.
	CompletedWorks int
	// Confidence in [0,1].
	Confidence float64
	// Block is prompt-ready text describing what the reader responds to.
	Block string
}

// PreferenceAnalyzer reports learned reader preferences. The analysis
// itself lives outside this system; stages only consume the interface.
type PreferenceAnalyzer interface {
	Analyze(ctx context.Context, owner string) (PreferenceProfile, error)
}

// Preference gates: the learned block only enters prompts when the
// analysis has enough history behind it.
const (
	minCompletedWorks = 2
	minConfidence     = 0.5
)

// Config configures the stage runner.
type Config struct {
	Store    store.Store
	Caller   Caller
	Settings storycfg.Settings

	// Prefs may be nil; the learned-preferences block is skipped.
	Prefs PreferenceAnalyzer

	Logger *slog.Logger
}

// Validate checks that the config has all required fields.
func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Caller == nil {
		return fmt.Errorf("model caller is required")
	}
	return nil
}

// Stages runs the model-calling stages.
type Stages struct {
	store    store.Store
	caller   Caller
	gate     *jsongate.Gate
	settings storycfg.Settings
	prefs    PreferenceAnalyzer
	logger   *slog.Logger
}

// New creates a stage runner.
func New(cfg Config) (*Stages, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stages{
		store:    cfg.Store,
		caller:   cfg.Caller,
		gate:     jsongate.New(logger),
		settings: cfg.Settings,
		prefs:    cfg.Prefs,
		logger:   logger,
	}, nil
}

// preferencesBlock returns the learned-preferences prompt block for the
// story's owner, or "" when analysis is missing, thin or not confident.
func (s *Stages) preferencesBlock(ctx context.Context, st *story.Story) string {
	if s.prefs == nil {
		return ""
	}
	profile, err := s.prefs.Analyze(ctx, st.Owner)
	if err != nil {
		s.logger.Warn("preference analysis failed", "title", st.Title, "error", err)
		return ""
	}
	if profile.CompletedWorks < minCompletedWorks || profile.Confidence < minConfidence {
		return ""
	}
	return profile.Block
}

// statedPreferences formats what the reader told us up front, for the
// bible prompt.
func statedPreferences(p story.Preferences) string {
	var b strings.Builder
	if len(p.Genres) > 0 {
		fmt.Fprintf(&b, "Genres: %s\n", strings.Join(p.Genres, ", "))
	}
	if len(p.Themes) > 0 {
		fmt.Fprintf(&b, "Themes: %s\n", strings.Join(p.Themes, ", "))
	}
	if p.ReadingLevel != "" {
		fmt.Fprintf(&b, "Reading level: %s\n", p.ReadingLevel)
	}
	if len(p.BelovedTitles) > 0 {
		fmt.Fprintf(&b, "Books they love: %s\n", strings.Join(p.BelovedTitles, ", "))
	}
	if p.Request != "" {
		fmt.Fprintf(&b, "They asked for: %s\n", p.Request)
	}
	return strings.TrimRight(b.String(), "\n")
}

// bibleJSON loads and encodes the story's bible for prompt embedding.
func (s *Stages) bibleJSON(ctx context.Context, storyID string) (*story.BibleRecord, string, error) {
	rec, err := s.store.LoadBible(ctx, storyID)
	if err != nil {
		return nil, "", fmt.Errorf("loading bible: %w", err)
	}
	enc, err := story.MarshalJSONString(rec.Content)
	if err != nil {
		return nil, "", fmt.Errorf("encoding bible: %w", err)
	}
	return rec, enc, nil
}
