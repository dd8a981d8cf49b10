package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablewright/fable/internal/config"
	"github.com/fablewright/fable/internal/defra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the DefraDB container",
	Long: `Manage the DefraDB container lifecycle.

DefraDB is the source of truth for all story state. The database runs in a
Docker container with data persisted to ~/.fable/data/.

When defra.url in the config file points at an external node, there is no
container to manage and these commands refuse to run (status still checks
the node's health).

Examples:
  fable store start   # Start the DefraDB container
  fable store stop    # Stop the container (data preserved)
  fable store status  # Check container status
  fable store logs    # View container logs`,
}

// getStoreManager builds the Docker manager from the file config. Returns
// an error when an external node is configured.
func getStoreManager() (*defra.DockerManager, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	if cm.Get().Defra.URL != "" {
		return nil, fmt.Errorf("defra.url points at an external node (%s); there is no container to manage", cm.Get().Defra.URL)
	}
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	return newDockerManager(h, cm.Get().Defra)
}

var storeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DefraDB container",
	Long: `Start the DefraDB container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.

Data is persisted to ~/.fable/data/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.ValidateExisting(ctx); err != nil {
			return fmt.Errorf("existing container is incompatible: %w", err)
		}

		fmt.Println("Starting DefraDB...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start DefraDB: %w", err)
		}

		fmt.Printf("DefraDB is running at %s\n", mgr.URL())
		return nil
	},
}

var storeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the DefraDB container",
	Long: `Stop the DefraDB container.

This stops the container but preserves data. Use 'fable store start' to
restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping DefraDB...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop DefraDB: %w", err)
		}

		fmt.Println("DefraDB stopped")
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show DefraDB status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}

		// External node: report its health, nothing to say about containers.
		if url := cm.Get().Defra.URL; url != "" {
			fmt.Printf("External node: %s\n", url)
			if err := defra.NewClient(url).HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
			return nil
		}

		h, err := getHome()
		if err != nil {
			return err
		}
		mgr, err := newDockerManager(h, cm.Get().Defra)
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case defra.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			client := defra.NewClient(mgr.URL())
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case defra.StatusStopped:
			fmt.Printf("Status: %s (use 'fable store start' to start)\n", status)
		case defra.StatusNotFound:
			fmt.Printf("Status: %s (use 'fable store start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var storeLogsTail string

var storeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show DefraDB container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, storeLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the DefraDB container",
	Long: `Remove the DefraDB container.

This stops and removes the container. Data in ~/.fable/data/ is NOT
deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing DefraDB container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("DefraDB container removed (data preserved)")
		return nil
	},
}

var storeWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for DefraDB to be ready",
	Long: `Wait for DefraDB to be ready to accept connections.

This is useful in scripts to ensure DefraDB is fully started before
running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getStoreManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for DefraDB (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(ctx, timeout); err != nil {
			return fmt.Errorf("DefraDB not ready: %w", err)
		}

		fmt.Println("DefraDB is ready")
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeStartCmd)
	storeCmd.AddCommand(storeStopCmd)
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeLogsCmd)
	storeCmd.AddCommand(storeRemoveCmd)
	storeCmd.AddCommand(storeWaitCmd)

	storeLogsCmd.Flags().StringVar(&storeLogsTail, "tail", "100", "Number of lines to show from the end")
	storeWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for DefraDB")

	rootCmd.AddCommand(storeCmd)
}
