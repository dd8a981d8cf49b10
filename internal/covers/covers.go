// Package covers renders one cover image per story and records the asset
// on the story row. Generation is best-effort by contract: the pipeline
// spawns it in parallel with chapter writing and a failure only logs.
package covers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fablewright/fable/internal/home"
	"github.com/fablewright/fable/internal/prompts/cover"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// Portrait cover defaults. The size string follows the OpenAI image API.
const (
	coverSize    = "1024x1792"
	coverQuality = "standard"
	fileMode     = 0o644
)

// Config wires a Generator.
type Config struct {
	Store  store.Store
	Images providers.ImageClient
	Home   *home.Dir
	Logger *slog.Logger
}

// Validate checks that required dependencies are set.
func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Images == nil {
		return fmt.Errorf("image client is required")
	}
	if c.Home == nil {
		return fmt.Errorf("home dir is required")
	}
	return nil
}

// Generator renders covers. It satisfies the pipeline's CoverGenerator.
type Generator struct {
	store  store.Store
	images providers.ImageClient
	home   *home.Dir
	logger *slog.Logger
}

// New creates a Generator from the config.
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid covers config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:  cfg.Store,
		images: cfg.Images,
		home:   cfg.Home,
		logger: logger,
	}, nil
}

// Generate renders a cover for the story, writes the image under the home
// covers directory, and records cover_ref/cover_url on the story row.
// Returns without work when the story already has a cover.
func (g *Generator) Generate(ctx context.Context, st *story.Story) error {
	if st.CoverRef != "" {
		return nil
	}

	// The bible sharpens the prompt with the protagonist and setting, but
	// a cover can be drawn from the premise alone.
	var bible *story.Bible
	if rec, err := g.store.LoadBible(ctx, st.ID); err == nil {
		bible = &rec.Content
	}

	prompt := cover.Prompt(cover.FromStory(st, bible))
	start := time.Now()
	res, err := g.images.Generate(ctx, &providers.ImageRequest{
		Prompt:    prompt,
		Size:      coverSize,
		Quality:   coverQuality,
		RequestID: uuid.NewString(),
	})
	g.recordCost(ctx, st, res, start, err)
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}

	url := res.URL
	if len(res.Image) > 0 {
		if err := g.home.EnsureCoversDir(); err != nil {
			return fmt.Errorf("failed to prepare covers directory: %w", err)
		}
		path := g.home.CoverPath(st.ID)
		if err := os.WriteFile(path, res.Image, fileMode); err != nil {
			return fmt.Errorf("failed to write cover image: %w", err)
		}
		if url == "" {
			url = "file://" + path
		}
	}
	if url == "" {
		return fmt.Errorf("image provider returned neither bytes nor a URL")
	}

	ref := uuid.NewString()
	if err := g.store.SetCover(ctx, st.ID, ref, url); err != nil {
		return fmt.Errorf("failed to record cover: %w", err)
	}
	g.logger.Info("cover generated",
		"story_id", st.ID, "title", st.Title, "url", url, "cost_usd", res.CostUSD)
	return nil
}

func (g *Generator) recordCost(ctx context.Context, st *story.Story, res *providers.ImageResult, start time.Time, callErr error) {
	rec := story.CostRecord{
		StoryID:   st.ID,
		Kind:      story.KindCover,
		Duration:  time.Since(start),
		Success:   callErr == nil,
		ErrorType: providers.ErrorType(callErr),
	}
	if res != nil {
		rec.CostUSD = res.CostUSD
		if res.ExecutionTime > 0 {
			rec.Duration = res.ExecutionTime
		}
	}
	g.store.InsertCostRecord(ctx, rec)
}
