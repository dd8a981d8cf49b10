package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/chapter"
	"github.com/fablewright/fable/internal/prompts/review"
	"github.com/fablewright/fable/internal/prose"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// defaultWordTarget is used when the arc outline carries no target.
const defaultWordTarget = 1500

// proseRetryBudget is how many prose-scan failures trigger a regeneration
// before the draft proceeds to the rubric anyway.
const proseRetryBudget = 2

// prevWindow is how many prior chapters seed the continuity context.
const prevWindow = 3

// Chapter generates, reviews and persists chapter n. brief may be nil.
// Idempotent: an existing chapter n corrects progress and returns. The
// rubric is advisory; after the regeneration budget the last draft
// persists with its failing review attached.
func (s *Stages) Chapter(ctx context.Context, st *story.Story, n int, brief *story.EditorBrief) error {
	if _, err := s.store.LoadChapter(ctx, st.ID, n); err == nil {
		s.logger.Info("chapter already exists, skipping generation",
			"title", st.Title, "chapter", n)
		return s.advanceChapterCount(ctx, st, n)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for existing chapter %d: %w", n, err)
	}

	bibleRec, bibleJSON, err := s.bibleJSON(ctx, st.ID)
	if err != nil {
		return err
	}
	arcRec, err := s.store.LoadLatestArc(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("loading arc: %w", err)
	}
	outline := arcRec.Content.OutlineFor(n)
	if outline == nil {
		return fmt.Errorf("arc has no outline for chapter %d", n)
	}

	data, err := s.buildChapterData(ctx, st, n, bibleJSON, *outline, brief)
	if err != nil {
		return err
	}

	draft, rev, attempts, err := s.generateAndReview(ctx, st, n, *outline, data)
	if err != nil {
		return err
	}

	ch := &story.Chapter{
		StoryID:       st.ID,
		Number:        n,
		Title:         draft.Title,
		Text:          draft.Content,
		WordCount:     story.CountWords(draft.Content),
		QualityScore:  story.RoundScore(rev.WeightedScore),
		Review:        rev,
		Metadata:      draft.Metadata,
		Regenerations: attempts - 1,
		Model:         draft.model,
	}
	persisted, err := s.store.InsertChapter(ctx, ch)
	if err != nil {
		return fmt.Errorf("persisting chapter %d: %w", n, err)
	}

	s.logger.Info("chapter created",
		"title", st.Title,
		"chapter", n,
		"words", persisted.WordCount,
		"score", persisted.QualityScore,
		"regenerations", persisted.Regenerations)

	if err := s.advanceChapterCount(ctx, st, n); err != nil {
		return err
	}

	s.postProcess(ctx, st, bibleRec, persisted)
	return nil
}

func (s *Stages) advanceChapterCount(ctx context.Context, st *story.Story, n int) error {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		if p.ChaptersGenerated < n {
			p.ChaptersGenerated = n
		}
	})
	if err != nil {
		return fmt.Errorf("advancing chapter count: %w", err)
	}
	return nil
}

// buildChapterData assembles the prompt context: outline (with any editor
// overlay), the last chapters' continuity summaries, editor notes, the
// learned-preferences block and the character ledger block.
func (s *Stages) buildChapterData(ctx context.Context, st *story.Story, n int, bibleJSON string, outline story.ChapterOutline, brief *story.EditorBrief) (chapter.Data, error) {
	var editorNotes []string
	if ro := brief.OutlineFor(n); ro != nil {
		outline = ro.Overlay(outline)
		editorNotes = ro.EditorNotes
	}
	if brief != nil && brief.StyleExample != "" {
		editorNotes = append(editorNotes,
			fmt.Sprintf("Match this register: %q", brief.StyleExample))
	}

	outlineJSON, err := story.MarshalJSONString(outline)
	if err != nil {
		return chapter.Data{}, fmt.Errorf("encoding outline: %w", err)
	}

	prev, err := s.store.LoadPreviousChapters(ctx, st.ID, n, prevWindow)
	if err != nil {
		return chapter.Data{}, fmt.Errorf("loading previous chapters: %w", err)
	}

	features := s.settings.Features.ForStory(st.Flags)
	data := chapter.Data{
		ChapterNumber:    n,
		TotalChapters:    story.TotalChapters,
		BibleJSON:        bibleJSON,
		OutlineJSON:      outlineJSON,
		PreviousChapters: prevChapters(prev),
		EditorNotes:      editorNotes,
		WordTarget:       outline.WordTarget,
	}
	if data.WordTarget <= 0 {
		data.WordTarget = defaultWordTarget
	}
	if features.AdaptivePreferences {
		data.PreferencesBlock = s.preferencesBlock(ctx, st)
	}
	if features.CharacterLedger {
		data.LedgerBlock = ledgerBlock(prev)
	}
	return data, nil
}

func prevChapters(prev []*story.Chapter) []chapter.PrevChapter {
	out := make([]chapter.PrevChapter, 0, len(prev))
	for _, ch := range prev {
		out = append(out, chapter.PrevChapter{
			Number:      ch.Number,
			Title:       ch.Title,
			KeyEvents:   strings.Join(ch.Metadata.KeyEvents, "; "),
			ClosingHook: ch.Metadata.ClosingHook,
			TailExcerpt: story.TailExcerpt(ch.Text, 600),
		})
	}
	return out
}

// ledgerBlock renders the most recent chapter ledger as prompt text.
func ledgerBlock(prev []*story.Chapter) string {
	for i := len(prev) - 1; i >= 0; i-- {
		ledger := prev[i].Ledger
		if ledger == nil || len(ledger.Characters) == 0 {
			continue
		}
		var b strings.Builder
		for _, c := range ledger.Characters {
			fmt.Fprintf(&b, "%s: %s", c.Name, c.EmotionalState)
			if c.VoiceNotes != "" {
				fmt.Fprintf(&b, "; voice: %s", c.VoiceNotes)
			}
			for _, f := range c.Facts {
				fmt.Fprintf(&b, "; %s", f)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return ""
}

// draftResult pairs a parsed draft with the model that produced it.
type draftResult struct {
	chapter.Draft
	model string
}

// generateAndReview runs the generate → prose scan → rubric loop, at most
// MaxRegenerations attempts. The first two prose failures synthesize a
// review and regenerate without spending a rubric call; the third proceeds
// to the rubric with the violations surfaced on the stored review.
func (s *Stages) generateAndReview(ctx context.Context, st *story.Story, n int, outline story.ChapterOutline, data chapter.Data) (draftResult, *story.QualityReview, int, error) {
	maxAttempts := s.settings.MaxRegenerations
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	threshold := s.settings.QualityThreshold

	messages := chapter.Messages(data)
	var (
		last     draftResult
		lastRev  *story.QualityReview
		attempts int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		res, err := s.caller.Call(ctx, messages, modelcall.Options{
			Title:          st.Title,
			StoryID:        st.ID,
			Kind:           story.KindChapter,
			MaxTokens:      chapter.MaxTokens,
			Temperature:    chapter.Temperature,
			ResponseFormat: chapter.ResponseFormat(),
		})
		if err != nil {
			return draftResult{}, nil, attempts, fmt.Errorf("chapter %d generation: %w", n, err)
		}
		doc, err := s.gate.Parse(res.Text, chapter.RequiredFields()...)
		if err != nil {
			return draftResult{}, nil, attempts, fmt.Errorf("chapter %d response: %w", n, err)
		}
		draft, err := chapter.Parse(doc)
		if err != nil {
			return draftResult{}, nil, attempts, fmt.Errorf("chapter %d response: %w", n, err)
		}
		last = draftResult{Draft: draft, model: res.Model}

		violations := prose.Scan(draft.Content)
		if len(violations) > 0 && attempt <= proseRetryBudget && attempt < maxAttempts {
			synth := synthesizeProseReview(violations)
			lastRev = &synth
			s.logger.Info("prose violations, regenerating",
				"title", st.Title,
				"chapter", n,
				"attempt", attempt,
				"violations", len(violations))
			messages = appendCorrection(messages, res.Text, synth, threshold)
			continue
		}

		rev, err := s.reviewDraft(ctx, st, n, outline, draft, violations)
		if err != nil {
			return draftResult{}, nil, attempts, err
		}
		lastRev = &rev

		if rev.Passed {
			return last, lastRev, attempts, nil
		}
		s.logger.Info("chapter failed review",
			"title", st.Title,
			"chapter", n,
			"attempt", attempt,
			"score", story.RoundScore(rev.WeightedScore))
		if attempt < maxAttempts {
			messages = appendCorrection(messages, res.Text, rev, threshold)
		}
	}

	// Out of attempts. The rubric is advisory: keep the last draft and its
	// failing review rather than losing the chapter.
	s.logger.Warn("review attempts exhausted, persisting last draft",
		"title", st.Title,
		"chapter", n,
		"score", story.RoundScore(lastRev.WeightedScore))
	return last, lastRev, attempts, nil
}

// reviewDraft runs the rubric call. Prose violations found on the final
// scan ride along on the stored review.
func (s *Stages) reviewDraft(ctx context.Context, st *story.Story, n int, outline story.ChapterOutline, draft chapter.Draft, violations []prose.Violation) (story.QualityReview, error) {
	outlineJSON, err := story.MarshalJSONString(outline)
	if err != nil {
		return story.QualityReview{}, fmt.Errorf("encoding outline for review: %w", err)
	}

	data := review.Data{
		ChapterNumber:   n,
		Title:           draft.Title,
		AgeRange:        st.AgeRange,
		OutlineJSON:     outlineJSON,
		Content:         draft.Content,
		ProseViolations: prose.Fixes(violations),
	}
	res, err := s.caller.Call(ctx, review.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindReview,
		MaxTokens:      review.MaxTokens,
		Temperature:    review.Temperature,
		ResponseFormat: review.ResponseFormat(),
	})
	if err != nil {
		return story.QualityReview{}, fmt.Errorf("chapter %d review: %w", n, err)
	}
	doc, err := s.gate.Parse(res.Text, review.RequiredFields()...)
	if err != nil {
		return story.QualityReview{}, fmt.Errorf("chapter %d review response: %w", n, err)
	}
	rev, err := review.Parse(doc, s.settings.QualityThreshold)
	if err != nil {
		return story.QualityReview{}, fmt.Errorf("chapter %d review response: %w", n, err)
	}
	if len(violations) > 0 {
		rev.ProseViolations = prose.Fixes(violations)
	}
	return rev, nil
}

// synthesizeProseReview builds the failing review a prose-scan violation
// implies, without spending a rubric call.
func synthesizeProseReview(violations []prose.Violation) story.QualityReview {
	fixes := prose.Fixes(violations)
	return story.QualityReview{
		Passed:          false,
		PriorityFixes:   fixes,
		ProseViolations: fixes,
		Summary:         "Mechanical prose scan failed: overused constructions exceed their caps.",
	}
}

// appendCorrection extends the conversation with the failed draft as an
// assistant turn and the review-derived instruction as the next user turn.
func appendCorrection(messages []providers.Message, priorResponse string, rev story.QualityReview, threshold float64) []providers.Message {
	return append(messages,
		providers.Message{Role: "assistant", Content: priorResponse},
		providers.Message{Role: "user", Content: chapter.Correction(rev, threshold)},
	)
}
