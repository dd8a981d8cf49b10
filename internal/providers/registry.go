package providers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry holds references to LLM and image clients. It supports
// config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu           sync.RWMutex
	llmClients   map[string]LLMClient
	imageClients map[string]ImageClient
	logger       *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients:   make(map[string]LLMClient),
		imageClients: make(map[string]ImageClient),
		logger:       slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// RegisterImages registers an image client by name.
func (r *Registry) RegisterImages(name string, client ImageClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imageClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered image client", "name", name)
	}
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// GetImages returns an image client by name.
func (r *Registry) GetImages(name string) (ImageClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.imageClients[name]
	if !ok {
		return nil, fmt.Errorf("image client not found: %s", name)
	}
	return client, nil
}

// ListLLM returns all registered LLM client names.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	return names
}

// ListImages returns all registered image client names.
func (r *Registry) ListImages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.imageClients))
	for name := range r.imageClients {
		names = append(names, name)
	}
	return names
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig

	// ImageProviders maps provider names to their config
	ImageProviders map[string]ImageProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type           string  // "openrouter"
	Model          string  // Default model
	APIKey         string  // Resolved API key
	RateLimit      float64 // Requests per minute
	TimeoutSeconds int     // HTTP timeout
	Enabled        bool
}

// ImageProviderConfig matches config.ImageProviderCfg with resolved API key.
type ImageProviderConfig struct {
	Type    string // "openai"
	Model   string // "dall-e-3", "gpt-image-1"
	APIKey  string // Resolved API key
	Size    string
	Quality string
	Enabled bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with resolved API keys are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createLLMClient(provCfg); client != nil {
			r.llmClients[name] = client
		}
	}
	for name, provCfg := range cfg.ImageProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createImageClient(provCfg); client != nil {
			r.imageClients[name] = client
		}
	}
	return r
}

// Reload updates the registry based on new configuration. Providers no longer
// configured are unregistered; providers with changed settings are recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantLLM := make(map[string]bool)
	wantImages := make(map[string]bool)

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantLLM[name] = true

		existing, hasExisting := r.llmClients[name]
		if !hasExisting || needsLLMUpdate(existing, provCfg) {
			client := createLLMClient(provCfg)
			if client != nil {
				r.llmClients[name] = client
				if r.logger != nil {
					if hasExisting {
						r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
					} else {
						r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
					}
				}
			}
		}
	}

	for name, provCfg := range cfg.ImageProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantImages[name] = true

		existing, hasExisting := r.imageClients[name]
		if !hasExisting || needsImageUpdate(existing, provCfg) {
			client := createImageClient(provCfg)
			if client != nil {
				r.imageClients[name] = client
				if r.logger != nil {
					if hasExisting {
						r.logger.Info("updated image client", "name", name, "type", provCfg.Type)
					} else {
						r.logger.Info("registered image client", "name", name, "type", provCfg.Type)
					}
				}
			}
		}
	}

	for name := range r.llmClients {
		if !wantLLM[name] {
			delete(r.llmClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}
	for name := range r.imageClients {
		if !wantImages[name] {
			delete(r.imageClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered image client", "name", name)
			}
		}
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case "openrouter":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
			RPM:          int(cfg.RateLimit),
			Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	default:
		return nil
	}
}

// createImageClient creates an image client based on provider type.
func createImageClient(cfg ImageProviderConfig) ImageClient {
	switch cfg.Type {
	case "openai":
		return NewOpenAIImagesClient(OpenAIImagesConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Size:    cfg.Size,
			Quality: cfg.Quality,
		})
	default:
		return nil
	}
}

// needsLLMUpdate checks if an LLM client needs to be recreated.
func needsLLMUpdate(client LLMClient, cfg LLMProviderConfig) bool {
	switch c := client.(type) {
	case *OpenRouterClient:
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != cfg.Model ||
			c.rpm != int(cfg.RateLimit)
	default:
		return true
	}
}

// needsImageUpdate checks if an image client needs to be recreated.
func needsImageUpdate(client ImageClient, cfg ImageProviderConfig) bool {
	switch c := client.(type) {
	case *OpenAIImagesClient:
		return c.apiKey != cfg.APIKey ||
			c.model != cfg.Model ||
			c.size != cfg.Size ||
			c.quality != cfg.Quality
	default:
		return true
	}
}
