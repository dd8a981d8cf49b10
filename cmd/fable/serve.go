package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablewright/fable/internal/config"
	"github.com/fablewright/fable/internal/defra"
	"github.com/fablewright/fable/internal/health"
)

var serveStopStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fable daemon",
	Long: `Run the fable daemon.

This starts the DefraDB container (unless defra.url points at an external
node), registers schemas, seeds runtime config defaults, and runs the
health sweeper that recovers stalled and errored stories.

The daemon holds no story state of its own; every fact lives in DefraDB.
Stop it whenever you like and start it again - in-flight stories resume
from their last persisted step.

Examples:
  fable serve               # Start with defaults
  fable serve --stop-store  # Also stop the DefraDB container on shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		// The level lives in a LevelVar so config edits apply live.
		level := new(slog.LevelVar)
		level.Set(parseLogLevel(cfg.LogLevel))
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		h, err := getHome()
		if err != nil {
			return err
		}

		// First run: write a commented config file the operator can edit.
		if cfgFile == "" && !h.ConfigExists() {
			if err := config.WriteDefault(h.ConfigPath()); err != nil {
				logger.Warn("failed to write default config", "path", h.ConfigPath(), "error", err)
			} else {
				logger.Info("wrote default config", "path", h.ConfigPath())
			}
		}

		pid := defra.NewPidfile(h.PidfilePath())
		if err := pid.Acquire(); err != nil {
			return err
		}
		defer pid.Release()

		// DefraDB: manage the container unless an external node is configured.
		url := cfg.Defra.URL
		var mgr *defra.DockerManager
		if url == "" {
			mgr, err = newDockerManager(h, cfg.Defra)
			if err != nil {
				return err
			}
			defer mgr.Close()
			if err := mgr.ValidateExisting(ctx); err != nil {
				return fmt.Errorf("existing container is incompatible: %w", err)
			}
			if err := mgr.Start(ctx); err != nil {
				return fmt.Errorf("failed to start DefraDB: %w", err)
			}
			if err := mgr.WaitReady(ctx, 30*time.Second); err != nil {
				return fmt.Errorf("DefraDB not ready: %w", err)
			}
			url = mgr.URL()
		}

		client := defra.NewClient(url)
		if err := client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("DefraDB is not reachable at %s: %w", url, err)
		}

		svcs, err := wireServices(ctx, cm, h, client, url, logger)
		if err != nil {
			return err
		}
		if len(svcs.registry.ListLLM()) == 0 {
			logger.Warn("no LLM provider enabled; story generation will fail until one is configured")
		}

		svcs.buf.StartPurge()
		ctx = svcs.attach(ctx)

		runner, err := svcs.newRunner()
		if err != nil {
			return err
		}
		sweeper, err := health.New(health.Config{
			Store:      svcs.store,
			Dispatcher: runner,
			Settings:   svcs.builder.HealthSettings,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		// Hot reload: the log level tracks the config file.
		cm.OnChange(func(c *config.Config) {
			level.Set(parseLogLevel(c.LogLevel))
			logger.Info("config file reloaded", "log_level", c.LogLevel)
		})
		cm.WatchConfig()

		sweeper.Start(ctx)
		logger.Info("fable is running", "defradb", url, "home", h.Path())

		<-ctx.Done()
		logger.Info("shutting down")

		sweeper.Stop()
		runner.Wait()
		svcs.buf.Stop()
		svcs.close()

		if serveStopStore && mgr != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := mgr.Stop(stopCtx); err != nil {
				logger.Warn("failed to stop DefraDB container", "error", err)
			} else {
				logger.Info("DefraDB stopped")
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveStopStore, "stop-store", false,
		"Stop the DefraDB container on shutdown (data preserved)")

	rootCmd.AddCommand(serveCmd)
}
