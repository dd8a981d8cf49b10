package main

import (
	"github.com/spf13/cobra"

	"github.com/fablewright/fable/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fable",
	Short: "Durable story generation with reader checkpoints",
	Long: `Fable writes twelve-chapter books with an LLM, pausing at chapters
2, 5 and 8 for reader feedback before the next batch.

All state lives in DefraDB, so every phase survives a crash and resumes
where it left off. A health sweeper recovers stalled and errored stories
automatically.

The flow:
  - Story bible (cast, setting, voice) from the premise
  - Narrative arc with twelve chapter outlines
  - Chapters in feedback-gated batches: 1-3, 4-6, 7-9, 10-12
  - Each chapter reviewed against a rubric and regenerated until it passes`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.fable/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "fable home directory (default: ~/.fable)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
