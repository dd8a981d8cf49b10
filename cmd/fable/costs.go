package main

import (
	"github.com/spf13/cobra"

	"github.com/fablewright/fable/internal/costs"
)

var costsOwner string

var costsCmd = &cobra.Command{
	Use:   "costs [story-id]",
	Short: "Show model spend",
	Long: `Show model spend from the recorded cost records.

Without arguments, prints every story's totals with a per-kind breakdown
(bible, arc, chapter, review, editor_brief, cover, ...), most expensive
first. With a story ID, prints that story's summary.

Examples:
  fable costs                  # All stories
  fable costs --owner user-1   # One owner's stories
  fable costs <story-id>       # One story`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		q := costs.NewQuery(svcs.store)
		if len(args) == 1 {
			summary, err := q.Story(ctx, args[0])
			if err != nil {
				return err
			}
			return output(summary)
		}

		summaries, err := q.All(ctx, costsOwner)
		if err != nil {
			return err
		}
		return output(summaries)
	},
}

func init() {
	costsCmd.Flags().StringVar(&costsOwner, "owner", "", "Only this owner's stories")

	rootCmd.AddCommand(costsCmd)
}
