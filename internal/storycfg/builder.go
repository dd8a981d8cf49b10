// Package storycfg builds generation settings from the DefraDB config store.
// Settings are read at pipeline entry so UI changes apply to the next stage
// without a restart. Keys missing from the store fall back to the compiled-in
// defaults from config.DefaultEntries().
package storycfg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fablewright/fable/internal/config"
	"github.com/fablewright/fable/internal/story"
	"github.com/fablewright/fable/internal/svcctx"
)

// Settings is everything the generation stages read from runtime config.
type Settings struct {
	Model             string
	Pricing           story.Pricing
	QualityThreshold  float64
	MaxRegenerations  int
	InterChapterDelay time.Duration
	Features          Features
}

// ModelFor returns the story's pinned model when set, else the configured
// default.
func (s Settings) ModelFor(st *story.Story) string {
	if st != nil && st.Model != "" {
		return st.Model
	}
	return s.Model
}

// Features are the configured defaults for the optional chapter
// post-processing passes.
type Features struct {
	AdaptivePreferences bool
	CharacterLedger     bool
	EntityValidation    bool
	VoiceReview         bool
}

// ForStory applies a story's per-row overrides onto the configured defaults.
func (f Features) ForStory(flags story.FeatureFlags) Features {
	return Features{
		AdaptivePreferences: story.Resolve(flags.AdaptivePreferences, f.AdaptivePreferences),
		CharacterLedger:     story.Resolve(flags.CharacterLedger, f.CharacterLedger),
		EntityValidation:    story.Resolve(flags.EntityValidation, f.EntityValidation),
		VoiceReview:         story.Resolve(flags.VoiceReview, f.VoiceReview),
	}
}

// Health is the sweeper's cadence and its failure budget.
type Health struct {
	Interval          time.Duration
	StallThreshold    time.Duration
	LockDuration      time.Duration
	CodeErrorRetryCap int
}

// Builder reads generation settings from the DefraDB config store.
type Builder struct {
	store config.Store
}

// NewBuilder creates a builder that reads from the given store.
func NewBuilder(store config.Store) *Builder {
	return &Builder{store: store}
}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger := svcctx.LoggerFrom(ctx); logger != nil {
		return logger
	}
	return slog.Default()
}

// GenerationSettings builds the Settings the pipeline stages run under.
func (b *Builder) GenerationSettings(ctx context.Context) (Settings, error) {
	model, err := b.getString(ctx, "generation_model")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get generation_model: %w", err)
	}
	inputRate, err := b.getFloat(ctx, "pricing.input_per_million")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get input pricing: %w", err)
	}
	outputRate, err := b.getFloat(ctx, "pricing.output_per_million")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get output pricing: %w", err)
	}
	threshold, err := b.getFloat(ctx, "chapter.quality_threshold")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get quality_threshold: %w", err)
	}
	maxRegens, err := b.getInt(ctx, "chapter.max_regenerations")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get max_regenerations: %w", err)
	}
	delay, err := b.getDuration(ctx, "chapter.inter_chapter_delay")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get inter_chapter_delay: %w", err)
	}
	features, err := b.features(ctx)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Model:             model,
		Pricing:           story.Pricing{InputPerMillion: inputRate, OutputPerMillion: outputRate},
		QualityThreshold:  threshold,
		MaxRegenerations:  maxRegens,
		InterChapterDelay: delay,
		Features:          features,
	}, nil
}

// HealthSettings builds the sweeper's cadence settings.
func (b *Builder) HealthSettings(ctx context.Context) (Health, error) {
	interval, err := b.getDuration(ctx, "health_check.interval")
	if err != nil {
		return Health{}, fmt.Errorf("failed to get health interval: %w", err)
	}
	stall, err := b.getDuration(ctx, "health_check.stall_threshold")
	if err != nil {
		return Health{}, fmt.Errorf("failed to get stall_threshold: %w", err)
	}
	lock, err := b.getDuration(ctx, "health_check.lock_duration")
	if err != nil {
		return Health{}, fmt.Errorf("failed to get lock_duration: %w", err)
	}
	retryCap, err := b.getInt(ctx, "health_check.code_error_retry_cap")
	if err != nil {
		return Health{}, fmt.Errorf("failed to get code_error_retry_cap: %w", err)
	}

	return Health{
		Interval:          interval,
		StallThreshold:    stall,
		LockDuration:      lock,
		CodeErrorRetryCap: retryCap,
	}, nil
}

func (b *Builder) features(ctx context.Context) (Features, error) {
	adaptive, err := b.getBool(ctx, "features.adaptive_preferences")
	if err != nil {
		return Features{}, fmt.Errorf("failed to get adaptive_preferences: %w", err)
	}
	ledger, err := b.getBool(ctx, "features.character_ledger")
	if err != nil {
		return Features{}, fmt.Errorf("failed to get character_ledger: %w", err)
	}
	entities, err := b.getBool(ctx, "features.entity_validation")
	if err != nil {
		return Features{}, fmt.Errorf("failed to get entity_validation: %w", err)
	}
	voice, err := b.getBool(ctx, "features.voice_review")
	if err != nil {
		return Features{}, fmt.Errorf("failed to get voice_review: %w", err)
	}

	return Features{
		AdaptivePreferences: adaptive,
		CharacterLedger:     ledger,
		EntityValidation:    entities,
		VoiceReview:         voice,
	}, nil
}

// Helper methods to get typed values from the store

func (b *Builder) getString(ctx context.Context, key string) (string, error) {
	entry, err := b.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if entry == nil {
		def := config.GetDefault(key)
		if def == nil {
			return "", fmt.Errorf("no value or default for key %q", key)
		}
		if s, ok := def.Value.(string); ok {
			loggerFromContext(ctx).Debug("config key not in DB, using default",
				"key", key, "default", s)
			return s, nil
		}
		return "", fmt.Errorf("default for %q is not a string (got %T: %v)", key, def.Value, def.Value)
	}
	if s, ok := entry.Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("value for %q is not a string (got %T: %v)", key, entry.Value, entry.Value)
}

func (b *Builder) getBool(ctx context.Context, key string) (bool, error) {
	entry, err := b.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if entry == nil {
		def := config.GetDefault(key)
		if def == nil {
			return false, fmt.Errorf("no value or default for key %q", key)
		}
		if v, ok := def.Value.(bool); ok {
			loggerFromContext(ctx).Debug("config key not in DB, using default",
				"key", key, "default", v)
			return v, nil
		}
		return false, fmt.Errorf("default for %q is not a bool (got %T: %v)", key, def.Value, def.Value)
	}
	if v, ok := entry.Value.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("value for %q is not a bool (got %T: %v)", key, entry.Value, entry.Value)
}

func (b *Builder) getFloat(ctx context.Context, key string) (float64, error) {
	entry, err := b.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	value := any(nil)
	if entry != nil {
		value = entry.Value
	} else {
		def := config.GetDefault(key)
		if def == nil {
			return 0, fmt.Errorf("no value or default for key %q", key)
		}
		loggerFromContext(ctx).Debug("config key not in DB, using default",
			"key", key, "default", def.Value)
		value = def.Value
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("value for %q is not numeric (got %T: %v)", key, value, value)
}

func (b *Builder) getInt(ctx context.Context, key string) (int, error) {
	f, err := b.getFloat(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// getDuration reads a Go duration string ("5m", "1s") stored as a config
// value.
func (b *Builder) getDuration(ctx context.Context, key string) (time.Duration, error) {
	s, err := b.getString(ctx, key)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("value for %q is not a duration: %w", key, err)
	}
	return d, nil
}
