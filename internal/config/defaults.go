package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default configuration entries.
// These are seeded into DefraDB on first run. Operators adjust them with
// `fable config set`; changes take effect on the next story or sweeper pass
// without a restart.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Generation
		// ===================
		{
			Key:         "generation_model",
			Value:       "anthropic/claude-sonnet-4.5",
			Description: "Model used for bible, arc, chapter and review generation",
		},
		{
			Key:         "pricing.input_per_million",
			Value:       3.0,
			Description: "Dollars per million input tokens (fallback when the provider omits cost)",
		},
		{
			Key:         "pricing.output_per_million",
			Value:       15.0,
			Description: "Dollars per million output tokens (fallback when the provider omits cost)",
		},

		// ===================
		// Health sweeper
		// ===================
		{
			Key:         "health_check.interval",
			Value:       "5m",
			Description: "How often the health sweeper scans for stalled or errored stories",
		},
		{
			Key:         "health_check.stall_threshold",
			Value:       "10m",
			Description: "An active story untouched for longer than this is considered stalled",
		},
		{
			Key:         "health_check.lock_duration",
			Value:       "20m",
			Description: "Recovery lease duration; a story under a younger lock is skipped",
		},
		{
			Key:         "health_check.code_error_retry_cap",
			Value:       2,
			Description: "Sweeper retries for non-transient errors before a story is quarantined (transient errors retry forever)",
		},

		// ===================
		// Chapter generation
		// ===================
		{
			Key:         "chapter.quality_threshold",
			Value:       7.5,
			Description: "Weighted review score a chapter must reach to pass without regeneration",
		},
		{
			Key:         "chapter.max_regenerations",
			Value:       3,
			Description: "Generate-review attempts per chapter before the last draft is kept",
		},
		{
			Key:         "chapter.inter_chapter_delay",
			Value:       "1s",
			Description: "Pause between chapters within a batch",
		},

		// ===================
		// Feature flags (per-story overrides live on the story row)
		// ===================
		{
			Key:         "features.adaptive_preferences",
			Value:       true,
			Description: "Include the learned-preferences block in chapter prompts when available",
		},
		{
			Key:         "features.character_ledger",
			Value:       true,
			Description: "Extract a character continuity ledger after each chapter",
		},
		{
			Key:         "features.entity_validation",
			Value:       true,
			Description: "Validate chapter text against the bible cast and surgically repair drift",
		},
		{
			Key:         "features.voice_review",
			Value:       true,
			Description: "Run a voice-consistency rewrite pass after each chapter",
		},

		// ===================
		// LLM Providers
		// ===================
		{
			Key:         "providers.llm.openrouter.type",
			Value:       "openrouter",
			Description: "LLM provider type for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.model",
			Value:       "anthropic/claude-sonnet-4.5",
			Description: "Default model for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.api_key",
			Value:       "${OPENROUTER_API_KEY}",
			Description: "OpenRouter API key (uses environment variable)",
		},
		{
			Key:         "providers.llm.openrouter.rate_limit",
			Value:       60.0,
			Description: "Rate limit in requests per minute for OpenRouter",
		},
		{
			Key:         "providers.llm.openrouter.timeout_seconds",
			Value:       300,
			Description: "HTTP timeout in seconds for OpenRouter calls",
		},
		{
			Key:         "providers.llm.openrouter.enabled",
			Value:       true,
			Description: "Whether the OpenRouter provider is enabled",
		},

		// ===================
		// Image Providers
		// ===================
		{
			Key:         "providers.image.openai.type",
			Value:       "openai",
			Description: "Image provider type for OpenAI",
		},
		{
			Key:         "providers.image.openai.model",
			Value:       "dall-e-3",
			Description: "Model for cover image generation",
		},
		{
			Key:         "providers.image.openai.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "providers.image.openai.size",
			Value:       "1024x1792",
			Description: "Cover image size (portrait)",
		},
		{
			Key:         "providers.image.openai.quality",
			Value:       "standard",
			Description: "Cover image quality (standard or hd)",
		},
		{
			Key:         "providers.image.openai.enabled",
			Value:       true,
			Description: "Whether the OpenAI image provider is enabled",
		},
	}
}

// SeedDefaults seeds default configuration entries into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		// Check if key already exists
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		// Create the entry
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default config entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
