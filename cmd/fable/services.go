package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/fablewright/fable/internal/config"
	"github.com/fablewright/fable/internal/covers"
	"github.com/fablewright/fable/internal/defra"
	"github.com/fablewright/fable/internal/home"
	"github.com/fablewright/fable/internal/logbuf"
	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/pipeline"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/schema"
	"github.com/fablewright/fable/internal/stages"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/storycfg"
	"github.com/fablewright/fable/internal/svcctx"
)

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// newDockerManager creates a DockerManager for the configured container.
func newDockerManager(h *home.Dir, dc config.DefraConfig) (*defra.DockerManager, error) {
	return defra.NewDockerManager(defra.DockerConfig{
		ContainerName: dc.ContainerName,
		Image:         dc.Image,
		DataPath:      h.DataPath(),
		HostPort:      dc.Port,
	})
}

// defraURL resolves the DefraDB endpoint: an explicit defra.url wins, else
// the configured container port on localhost.
func defraURL(cfg *config.Config) string {
	if cfg.Defra.URL != "" {
		return cfg.Defra.URL
	}
	port := cfg.Defra.Port
	if port == "" {
		port = defra.DefaultPort
	}
	return fmt.Sprintf("http://localhost:%s", port)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// services is the wired dependency graph every data-touching command works
// through.
type services struct {
	cm       *config.Manager
	home     *home.Dir
	url      string
	logger   *slog.Logger
	client   *defra.Client
	sink     *defra.Sink
	store    store.Store
	cfgStore config.Store
	registry *providers.Registry
	buf      *logbuf.Registry
	builder  *storycfg.Builder
}

// openServices connects to a running DefraDB node and wires the service
// graph. One-shot commands use this; serve manages the container itself and
// calls wireServices directly. Logs go to stderr so structured output on
// stdout stays clean.
func openServices(ctx context.Context) (*services, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	h, err := getHome()
	if err != nil {
		return nil, err
	}

	url := defraURL(cfg)
	client := defra.NewClient(url)
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("DefraDB is not reachable at %s (start it with 'fable store start' or 'fable serve'): %w", url, err)
	}

	return wireServices(ctx, cm, h, client, url, logger)
}

// wireServices builds the service graph on top of a healthy DefraDB
// connection: schemas, seeded runtime config, providers, the write sink and
// the progress store.
func wireServices(ctx context.Context, cm *config.Manager, h *home.Dir, client *defra.Client, url string, logger *slog.Logger) (*services, error) {
	if err := schema.Initialize(ctx, client, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize schemas: %w", err)
	}

	cfgStore := config.NewStore(client)
	if err := config.SeedDefaults(ctx, cfgStore, logger); err != nil {
		return nil, fmt.Errorf("failed to seed config defaults: %w", err)
	}

	registry := buildRegistry(ctx, cfgStore, cm.Get(), logger)

	sink := defra.NewSink(defra.SinkConfig{Client: client, Logger: logger})
	sink.Start(ctx)

	return &services{
		cm:       cm,
		home:     h,
		url:      url,
		logger:   logger,
		client:   client,
		sink:     sink,
		store:    store.NewDefraStore(client, sink, logger),
		cfgStore: cfgStore,
		registry: registry,
		buf:      logbuf.NewRegistry(logger),
		builder:  storycfg.NewBuilder(cfgStore),
	}, nil
}

// buildRegistry constructs the provider registry from the runtime config
// store, falling back to the file config when the store cannot be read.
func buildRegistry(ctx context.Context, cfgStore config.Store, fileCfg *config.Config, logger *slog.Logger) *providers.Registry {
	regCfg, err := config.StoreToProviderRegistryConfig(ctx, cfgStore)
	if err != nil {
		logger.Warn("failed to read providers from config store; using file config", "error", err)
		regCfg = fileCfg.ToProviderRegistryConfig()
	}
	registry := providers.NewRegistryFromConfig(regCfg)
	registry.SetLogger(logger)
	return registry
}

// close flushes pending writes. Call after in-flight work has finished.
func (s *services) close() {
	s.sink.Stop()
}

// attach threads the service graph through context for components that pull
// dependencies from it.
func (s *services) attach(ctx context.Context) context.Context {
	return svcctx.WithServices(ctx, &svcctx.Services{
		DefraClient: s.client,
		DefraSink:   s.sink,
		Store:       s.store,
		ConfigStore: s.cfgStore,
		Registry:    s.registry,
		Logger:      s.logger,
		Home:        s.home,
		LogBuffer:   s.buf,
	})
}

// newRunner wires the pipeline for in-process dispatch.
func (s *services) newRunner() (*pipeline.Runner, error) {
	p, err := pipeline.New(pipeline.Config{
		Store:  s.store,
		Stages: newStagerFactory(s.store, s.registry, s.builder, s.logger),
		Buffer: s.buf,
		Covers: newCoverGenerator(s.store, s.registry, s.home, s.logger),
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(p, s.logger), nil
}

// newStagerFactory builds the per-entry stage runner. Settings are read
// from the config store on every entry, so edits apply to the next run.
func newStagerFactory(st store.Store, reg *providers.Registry, builder *storycfg.Builder, logger *slog.Logger) pipeline.StagerFactory {
	return func(ctx context.Context) (pipeline.Stager, storycfg.Settings, error) {
		settings, err := builder.GenerationSettings(ctx)
		if err != nil {
			return nil, storycfg.Settings{}, fmt.Errorf("failed to load generation settings: %w", err)
		}
		llm, err := defaultLLM(reg)
		if err != nil {
			return nil, storycfg.Settings{}, err
		}
		caller := modelcall.New(llm, settings.Model, settings.Pricing, st, logger)
		stager, err := stages.New(stages.Config{
			Store:    st,
			Caller:   caller,
			Settings: settings,
			Logger:   logger,
		})
		if err != nil {
			return nil, storycfg.Settings{}, err
		}
		return stager, settings, nil
	}
}

// newCoverGenerator wires the cover task when an image provider is enabled.
// Returns nil (covers disabled) otherwise.
func newCoverGenerator(st store.Store, reg *providers.Registry, h *home.Dir, logger *slog.Logger) pipeline.CoverGenerator {
	images, err := defaultImages(reg)
	if err != nil {
		logger.Warn("cover generation disabled", "reason", err)
		return nil
	}
	gen, err := covers.New(covers.Config{
		Store:  st,
		Images: images,
		Home:   h,
		Logger: logger,
	})
	if err != nil {
		logger.Warn("cover generation disabled", "error", err)
		return nil
	}
	return gen
}

// defaultLLM returns the configured LLM client. With one provider enabled
// (the usual case) that one wins; with several, names sort and the first is
// used.
func defaultLLM(reg *providers.Registry) (providers.LLMClient, error) {
	names := reg.ListLLM()
	if len(names) == 0 {
		return nil, fmt.Errorf("no LLM provider enabled; set OPENROUTER_API_KEY or configure providers.llm.* entries")
	}
	sort.Strings(names)
	return reg.GetLLM(names[0])
}

// defaultImages returns the configured image client.
func defaultImages(reg *providers.Registry) (providers.ImageClient, error) {
	names := reg.ListImages()
	if len(names) == 0 {
		return nil, fmt.Errorf("no image provider enabled")
	}
	sort.Strings(names)
	return reg.GetImages(names[0])
}
