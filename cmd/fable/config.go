package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fablewright/fable/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write runtime configuration",
	Long: `Read and write the runtime configuration stored in DefraDB.

These keys steer generation without a restart: the model, pricing, chapter
quality gates, feature flags, the health sweeper's cadence, and provider
credentials. Changes apply on the next story or sweeper pass.

Keys missing from the store fall back to compiled-in defaults; 'fable
config list' shows the effective set.

Examples:
  fable config list
  fable config list chapter.
  fable config get chapter.quality_threshold
  fable config set chapter.quality_threshold 8.0
  fable config set features.voice_review false
  fable config reset chapter.quality_threshold`,
}

// configView is one entry as printed. Source says whether the value came
// from the store or a compiled-in default.
type configView struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Source      string `json:"source" yaml:"source"`
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one config entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key := args[0]
		if err := config.ValidateKey(key); err != nil {
			return err
		}

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		entry, err := svcs.cfgStore.Get(ctx, key)
		if err != nil {
			return err
		}
		if entry != nil {
			return output(configView{
				Key: entry.Key, Value: entry.Value, Description: entry.Description, Source: "store",
			})
		}
		if def := config.GetDefault(key); def != nil {
			return output(configView{
				Key: def.Key, Value: def.Value, Description: def.Description, Source: "default",
			})
		}
		return fmt.Errorf("no value or default for key %q", key)
	},
}

var configSetDescription string

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config entry",
	Long: `Set a config entry.

The value is parsed as JSON when it looks like JSON (numbers, booleans,
quoted strings, objects), otherwise stored as a plain string. Durations
are plain strings: '5m', '1s'.

Examples:
  fable config set chapter.quality_threshold 8.0
  fable config set features.voice_review false
  fable config set health_check.interval 10m
  fable config set generation_model anthropic/claude-sonnet-4.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key, raw := args[0], args[1]
		if err := config.ValidateKey(key); err != nil {
			return err
		}

		// Numbers, booleans and quoted strings come through typed; anything
		// that fails to parse is a plain string.
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		// Keep the existing or default description unless one was given.
		description := configSetDescription
		if description == "" {
			if existing, err := svcs.cfgStore.Get(ctx, key); err == nil && existing != nil {
				description = existing.Description
			} else if def := config.GetDefault(key); def != nil {
				description = def.Description
			}
		}

		if err := svcs.cfgStore.Set(ctx, key, value, description); err != nil {
			return fmt.Errorf("failed to set %q: %w", key, err)
		}
		fmt.Printf("%s = %v\n", key, value)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List config entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		var entries map[string]config.Entry
		if len(args) == 1 {
			entries, err = svcs.cfgStore.GetByPrefix(ctx, args[0])
		} else {
			entries, err = svcs.cfgStore.GetAll(ctx)
		}
		if err != nil {
			return err
		}

		views := make([]configView, 0, len(entries))
		for _, e := range entries {
			views = append(views, configView{
				Key: e.Key, Value: e.Value, Description: e.Description, Source: "store",
			})
		}
		// Defaults for keys the store doesn't hold yet.
		for _, def := range config.DefaultEntries() {
			if _, ok := entries[def.Key]; ok {
				continue
			}
			if len(args) == 1 && !strings.HasPrefix(def.Key, args[0]) {
				continue
			}
			views = append(views, configView{
				Key: def.Key, Value: def.Value, Description: def.Description, Source: "default",
			})
		}
		sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
		return output(views)
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Reset a config entry to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key := args[0]
		if err := config.ValidateKey(key); err != nil {
			return err
		}

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		if err := config.ResetToDefault(ctx, svcs.cfgStore, key); err != nil {
			return err
		}
		def := config.GetDefault(key)
		fmt.Printf("%s = %v (default)\n", key, def.Value)
		return nil
	},
}

func init() {
	configSetCmd.Flags().StringVar(&configSetDescription, "description", "", "Entry description (default: keep existing)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configResetCmd)

	rootCmd.AddCommand(configCmd)
}
