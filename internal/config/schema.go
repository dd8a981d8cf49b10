package config

// Config holds fable process configuration.
// Stored at: ~/.fable/config.yaml
type Config struct {
	LogLevel       string                      `mapstructure:"log_level" yaml:"log_level"`
	LLMProviders   map[string]LLMProviderCfg   `mapstructure:"llm_providers" yaml:"llm_providers"`
	ImageProviders map[string]ImageProviderCfg `mapstructure:"image_providers" yaml:"image_providers"`
	Defra          DefraConfig                 `mapstructure:"defra" yaml:"defra"`
}

// LLMProviderCfg configures a text-generation provider.
type LLMProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`                       // "openrouter"
	Model          string  `mapstructure:"model" yaml:"model"`                     // Default model
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per minute
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP timeout
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ImageProviderCfg configures a cover-image provider.
type ImageProviderCfg struct {
	Type    string `mapstructure:"type" yaml:"type"`       // "openai"
	Model   string `mapstructure:"model" yaml:"model"`     // "dall-e-3", "gpt-image-1"
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	Size    string `mapstructure:"size" yaml:"size"`       // e.g. "1024x1792"
	Quality string `mapstructure:"quality" yaml:"quality"` // "standard" or "hd"
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// URL overrides the container-derived URL (useful for an external node).
	URL string `mapstructure:"url" yaml:"url"`
	// ContainerName is the Docker container name (default: fable-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-sonnet-4.5",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
		},
		ImageProviders: map[string]ImageProviderCfg{
			"openai": {
				Type:    "openai",
				Model:   "dall-e-3",
				APIKey:  "${OPENAI_API_KEY}",
				Size:    "1024x1792",
				Quality: "standard",
				Enabled: true,
			},
		},
		Defra: DefraConfig{
			ContainerName: "fable-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// GetImageProvider returns an image provider config by name.
func (c *Config) GetImageProvider(name string) (ImageProviderCfg, bool) {
	cfg, ok := c.ImageProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// EnabledImageProviders returns all enabled image providers.
func (c *Config) EnabledImageProviders() map[string]ImageProviderCfg {
	result := make(map[string]ImageProviderCfg)
	for name, cfg := range c.ImageProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
