package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fablewright/fable/internal/export"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Create and manage stories",
	Long: `Create and manage stories.

A story runs in phases: bible and arc, then chapters in batches of three.
After chapters 2, 5 and 8 the run parks and waits for reader feedback;
'fable story feedback' records it and writes the next batch.

Examples:
  fable story create --owner user-1 --premise "A door in the sea"
  fable story create --from premise.yaml
  fable story list --owner user-1
  fable story status <story-id>
  fable story feedback <story-id> --pacing slow --character love
  fable story export <story-id>`,
}

// storyView is the status shape printed by create, status and feedback.
type storyView struct {
	ID                 string   `json:"id" yaml:"id"`
	Title              string   `json:"title" yaml:"title"`
	Owner              string   `json:"owner" yaml:"owner"`
	Genre              string   `json:"genre,omitempty" yaml:"genre,omitempty"`
	Status             string   `json:"status" yaml:"status"`
	Step               string   `json:"step" yaml:"step"`
	Chapters           int      `json:"chapters" yaml:"chapters"`
	AwaitingCheckpoint int      `json:"awaiting_checkpoint,omitempty" yaml:"awaiting_checkpoint,omitempty"`
	CoverURL           string   `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
	LastError          string   `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorAt        string   `json:"last_error_at,omitempty" yaml:"last_error_at,omitempty"`
	RetryCount         int      `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	RecoveryRetries    int      `json:"recovery_retries,omitempty" yaml:"recovery_retries,omitempty"`
	RecentLogs         []string `json:"recent_logs,omitempty" yaml:"recent_logs,omitempty"`
	CreatedAt          string   `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt          string   `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

func viewOf(st *story.Story) storyView {
	v := storyView{
		ID:              st.ID,
		Title:           st.Title,
		Owner:           st.Owner,
		Genre:           st.Genre,
		Status:          st.Status,
		Step:            st.Progress.CurrentStep,
		Chapters:        st.Progress.ChaptersGenerated,
		CoverURL:        st.CoverURL,
		LastError:       st.Progress.LastError,
		LastErrorAt:     st.Progress.LastErrorAt,
		RetryCount:      st.Progress.RetryCount,
		RecoveryRetries: st.Progress.HealthCheckRetries,
		RecentLogs:      st.Progress.ErrorLogs,
	}
	if cp, ok := story.ParseAwaitingStep(st.Progress.CurrentStep); ok {
		v.AwaitingCheckpoint = cp
	}
	if !st.CreatedAt.IsZero() {
		v.CreatedAt = st.CreatedAt.Format("2006-01-02 15:04:05")
	}
	if !st.UpdatedAt.IsZero() {
		v.UpdatedAt = st.UpdatedAt.Format("2006-01-02 15:04:05")
	}
	return v
}

// ---- create ----

var (
	createFrom       string
	createOwner      string
	createOwnerName  string
	createTitle      string
	createGenre      string
	createPremise    string
	createPremiseRef string
	createAgeRange   string
	createModel      string
)

// premiseFile is the YAML shape accepted by --from. Flags override its
// fields.
type premiseFile struct {
	Owner      string `yaml:"owner"`
	OwnerName  string `yaml:"owner_name"`
	Title      string `yaml:"title"`
	Genre      string `yaml:"genre"`
	Premise    string `yaml:"premise"`
	PremiseRef string `yaml:"premise_ref"`
	AgeRange   string `yaml:"age_range"`
	Model      string `yaml:"model"`

	Preferences struct {
		Genres        []string `yaml:"genres"`
		Themes        []string `yaml:"themes"`
		ReadingLevel  string   `yaml:"reading_level"`
		BelovedTitles []string `yaml:"beloved_titles"`
		Request       string   `yaml:"request"`
	} `yaml:"preferences"`

	Flags struct {
		AdaptivePreferences *bool `yaml:"adaptive_preferences"`
		CharacterLedger     *bool `yaml:"character_ledger"`
		EntityValidation    *bool `yaml:"entity_validation"`
		VoiceReview         *bool `yaml:"voice_review"`
	} `yaml:"flags"`
}

func loadDraft() (store.StoryDraft, error) {
	var draft store.StoryDraft
	if createFrom != "" {
		data, err := os.ReadFile(createFrom)
		if err != nil {
			return draft, fmt.Errorf("failed to read premise file: %w", err)
		}
		var pf premiseFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return draft, fmt.Errorf("failed to parse premise file: %w", err)
		}
		draft = store.StoryDraft{
			Owner:      pf.Owner,
			OwnerName:  pf.OwnerName,
			Title:      pf.Title,
			Genre:      pf.Genre,
			Premise:    pf.Premise,
			PremiseRef: pf.PremiseRef,
			AgeRange:   pf.AgeRange,
			Model:      pf.Model,
			Preferences: story.Preferences{
				Genres:        pf.Preferences.Genres,
				Themes:        pf.Preferences.Themes,
				ReadingLevel:  pf.Preferences.ReadingLevel,
				BelovedTitles: pf.Preferences.BelovedTitles,
				Request:       pf.Preferences.Request,
			},
			Flags: story.FeatureFlags{
				AdaptivePreferences: pf.Flags.AdaptivePreferences,
				CharacterLedger:     pf.Flags.CharacterLedger,
				EntityValidation:    pf.Flags.EntityValidation,
				VoiceReview:         pf.Flags.VoiceReview,
			},
		}
	}

	// Flags override the file.
	if createOwner != "" {
		draft.Owner = createOwner
	}
	if createOwnerName != "" {
		draft.OwnerName = createOwnerName
	}
	if createTitle != "" {
		draft.Title = createTitle
	}
	if createGenre != "" {
		draft.Genre = createGenre
	}
	if createPremise != "" {
		draft.Premise = createPremise
	}
	if createPremiseRef != "" {
		draft.PremiseRef = createPremiseRef
	}
	if createAgeRange != "" {
		draft.AgeRange = createAgeRange
	}
	if createModel != "" {
		draft.Model = createModel
	}

	if draft.Owner == "" {
		return draft, fmt.Errorf("owner is required (--owner or the premise file)")
	}
	if draft.Premise == "" {
		return draft, fmt.Errorf("premise is required (--premise or the premise file)")
	}
	return draft, nil
}

var storyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a story and write its opening",
	Long: `Create a story and write its opening.

The story row is persisted before any model call, then the bible, arc and
chapters 1-3 are generated. The command blocks until the opening parks at
the first reader checkpoint.

Creating twice from the same owner and premise_ref returns the existing
story instead of starting a duplicate.

Examples:
  fable story create --owner user-1 --owner-name Noa \
    --premise "A lighthouse keeper's daughter finds a door in the sea" \
    --genre fantasy --age-range middle_grade
  fable story create --from premise.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		draft, err := loadDraft()
		if err != nil {
			return err
		}

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()
		ctx = svcs.attach(ctx)

		st, err := svcs.store.CreateStory(ctx, draft)
		if err != nil {
			return fmt.Errorf("failed to create story: %w", err)
		}

		// A parked or finished duplicate needs no run; report it instead.
		if _, awaiting := story.ParseAwaitingStep(st.Progress.CurrentStep); awaiting || story.IsTerminalStep(st.Progress.CurrentStep) {
			fmt.Fprintf(os.Stderr, "Story already exists (step %s)\n", st.Progress.CurrentStep)
			return output(viewOf(st))
		}

		fmt.Fprintf(os.Stderr, "Story %s created; writing bible, arc and chapters 1-3...\n", st.ID)
		runner, err := svcs.newRunner()
		if err != nil {
			return err
		}
		runner.StartPipeline(ctx, st.ID)
		runner.Wait()

		fresh, err := svcs.store.LoadStory(ctx, st.ID)
		if err != nil {
			return err
		}
		return output(viewOf(fresh))
	},
}

// ---- list ----

var listOwner string

var storyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		stories, err := svcs.store.ListStories(ctx, listOwner)
		if err != nil {
			return fmt.Errorf("failed to list stories: %w", err)
		}
		views := make([]storyView, 0, len(stories))
		for _, st := range stories {
			v := viewOf(st)
			// Keep list rows short; status has the full record.
			v.RecentLogs = nil
			v.LastError = truncate(v.LastError, 80)
			views = append(views, v)
		}
		return output(views)
	},
}

// ---- status ----

var storyStatusCmd = &cobra.Command{
	Use:   "status <story-id>",
	Short: "Show a story's progress",
	Long: `Show a story's progress: status, current step, chapter count, the
awaiting checkpoint if parked, and on failure the last error with the
buffered log tail the run left behind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		st, err := svcs.store.LoadStory(ctx, args[0])
		if err != nil {
			return err
		}
		return output(viewOf(st))
	},
}

// ---- feedback ----

var (
	feedbackPacing         string
	feedbackTone           string
	feedbackCharacter      string
	feedbackQuotes         []string
	feedbackTranscript     string
	feedbackTranscriptFile string
	feedbackCheckpoint     int
)

var storyFeedbackCmd = &cobra.Command{
	Use:   "feedback <story-id>",
	Short: "Record checkpoint feedback and write the next batch",
	Long: `Record reader feedback at the story's current checkpoint and write the
chapter batch it unlocks.

Feedback is three dimensions, each with a keep-going value:
  --pacing     hooked | slow | fast
  --tone       right | serious | light
  --character  love | warming | not_clicking

Pass a raw interview instead with --transcript or --transcript-file; it is
reduced to the same dimensions before the batch starts. All-neutral
feedback (or none) means "keep going" and skips the editor brief.

Recording feedback twice at the same checkpoint keeps the first record.

Examples:
  fable story feedback <id> --pacing slow --character love
  fable story feedback <id> --transcript-file interview.txt
  fable story feedback <id>   # all good, keep going`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := validateChoice("pacing", feedbackPacing,
			story.PacingHooked, story.PacingSlow, story.PacingFast); err != nil {
			return err
		}
		if err := validateChoice("tone", feedbackTone,
			story.ToneRight, story.ToneSerious, story.ToneLight); err != nil {
			return err
		}
		if err := validateChoice("character", feedbackCharacter,
			story.CharacterLove, story.CharacterWarming, story.CharacterNotClicking); err != nil {
			return err
		}
		transcript := feedbackTranscript
		if feedbackTranscriptFile != "" {
			if transcript != "" {
				return fmt.Errorf("pass --transcript or --transcript-file, not both")
			}
			data, err := os.ReadFile(feedbackTranscriptFile)
			if err != nil {
				return fmt.Errorf("failed to read transcript file: %w", err)
			}
			transcript = string(data)
		}

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()
		ctx = svcs.attach(ctx)

		st, err := svcs.store.LoadStory(ctx, args[0])
		if err != nil {
			return err
		}

		checkpoint := feedbackCheckpoint
		if checkpoint == 0 {
			cp, ok := story.ParseAwaitingStep(st.Progress.CurrentStep)
			if !ok {
				return fmt.Errorf("story is not awaiting feedback (step %s); pass --checkpoint to override",
					st.Progress.CurrentStep)
			}
			checkpoint = cp
		}
		start, end, ok := story.BatchForCheckpoint(checkpoint)
		if !ok {
			return fmt.Errorf("invalid checkpoint %d (one of: 2, 5, 8)", checkpoint)
		}

		if _, err := svcs.store.InsertFeedback(ctx, &story.Feedback{
			StoryID:    st.ID,
			Checkpoint: checkpoint,
			Pacing:     feedbackPacing,
			Tone:       feedbackTone,
			Character:  feedbackCharacter,
			Quotes:     feedbackQuotes,
			Transcript: transcript,
		}); err != nil {
			return fmt.Errorf("failed to record feedback: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Feedback recorded at checkpoint %d; writing chapters %d-%d...\n",
			checkpoint, start, end)
		runner, err := svcs.newRunner()
		if err != nil {
			return err
		}
		runner.StartCheckpoint(ctx, st.ID, checkpoint)
		runner.Wait()

		fresh, err := svcs.store.LoadStory(ctx, st.ID)
		if err != nil {
			return err
		}
		return output(viewOf(fresh))
	},
}

// validateChoice checks an enum flag. Empty is allowed; it means the reader
// skipped the dimension.
func validateChoice(flag, val string, allowed ...string) error {
	if val == "" {
		return nil
	}
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("invalid --%s %q (one of: %s)", flag, val, strings.Join(allowed, ", "))
}

// ---- export ----

var storyExportCmd = &cobra.Command{
	Use:   "export <story-id>",
	Short: "Export a completed story as an EPUB",
	Long: `Export a completed story as an EPUB under ~/.fable/exports/.

Only completed stories export; a run still in flight or parked at a
checkpoint is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.close()

		svc := export.NewService(svcs.store, svcs.home, svcs.logger)
		path, err := svc.Export(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", path)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	storyCreateCmd.Flags().StringVar(&createFrom, "from", "", "YAML premise file (flags override its fields)")
	storyCreateCmd.Flags().StringVar(&createOwner, "owner", "", "Owner ID (required unless in the premise file)")
	storyCreateCmd.Flags().StringVar(&createOwnerName, "owner-name", "", "Reader's name, used in prompts")
	storyCreateCmd.Flags().StringVar(&createTitle, "title", "", "Working title (the bible confirms or replaces it)")
	storyCreateCmd.Flags().StringVar(&createGenre, "genre", "", "Genre")
	storyCreateCmd.Flags().StringVar(&createPremise, "premise", "", "Premise (required unless in the premise file)")
	storyCreateCmd.Flags().StringVar(&createPremiseRef, "premise-ref", "", "Premise selection ID; creates dedupe on (owner, premise-ref)")
	storyCreateCmd.Flags().StringVar(&createAgeRange, "age-range", "", "Target age range, e.g. middle_grade")
	storyCreateCmd.Flags().StringVar(&createModel, "model", "", "Pin a model for this story (default: generation_model config)")

	storyListCmd.Flags().StringVar(&listOwner, "owner", "", "Only this owner's stories")

	storyFeedbackCmd.Flags().StringVar(&feedbackPacing, "pacing", "", "hooked | slow | fast")
	storyFeedbackCmd.Flags().StringVar(&feedbackTone, "tone", "", "right | serious | light")
	storyFeedbackCmd.Flags().StringVar(&feedbackCharacter, "character", "", "love | warming | not_clicking")
	storyFeedbackCmd.Flags().StringArrayVar(&feedbackQuotes, "quote", nil, "Reader quote (repeatable)")
	storyFeedbackCmd.Flags().StringVar(&feedbackTranscript, "transcript", "", "Raw interview text to reduce into dimensions")
	storyFeedbackCmd.Flags().StringVar(&feedbackTranscriptFile, "transcript-file", "", "Read the interview from a file")
	storyFeedbackCmd.Flags().IntVar(&feedbackCheckpoint, "checkpoint", 0, "Checkpoint override (2, 5 or 8); default: the story's awaiting step")

	storyCmd.AddCommand(storyCreateCmd)
	storyCmd.AddCommand(storyListCmd)
	storyCmd.AddCommand(storyStatusCmd)
	storyCmd.AddCommand(storyFeedbackCmd)
	storyCmd.AddCommand(storyExportCmd)

	rootCmd.AddCommand(storyCmd)
}
