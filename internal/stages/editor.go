package stages

import (
	"context"
	"fmt"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/editor"
	"github.com/fablewright/fable/internal/story"
)

// excerptChars bounds the prose samples in the editor prompt.
const excerptChars = 600

// EditorBrief builds the course-correction brief from checkpoint feedback.
// Returns nil (no error) when the feedback is neutral or the model's brief
// parses to nothing; the caller falls back to the unrevised outlines.
func (s *Stages) EditorBrief(ctx context.Context, st *story.Story, fb *story.Feedback) (*story.EditorBrief, error) {
	if fb == nil || fb.Neutral() {
		return nil, nil
	}
	start, end, ok := story.BatchForCheckpoint(fb.Checkpoint)
	if !ok {
		return nil, fmt.Errorf("no batch for checkpoint %d", fb.Checkpoint)
	}

	arcRec, err := s.store.LoadLatestArc(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("loading arc: %w", err)
	}
	var outlines []story.ChapterOutline
	for n := start; n <= end; n++ {
		if o := arcRec.Content.OutlineFor(n); o != nil {
			outlines = append(outlines, *o)
		}
	}
	if len(outlines) == 0 {
		return nil, fmt.Errorf("arc has no outlines for batch %d-%d", start, end)
	}

	chapters, err := s.store.LoadChapters(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chapters: %w", err)
	}

	data := editor.Data{
		Title:       st.Title,
		Premise:     st.Premise,
		AgeRange:    st.AgeRange,
		Checkpoint:  fb.Checkpoint,
		Adjustments: editor.Adjustments(*fb),
		Quotes:      fb.Quotes,
		Summaries:   chapterSummaries(chapters),
		Excerpts:    proseSamples(chapters),
		Outlines:    outlines,
	}

	// XML response: no structured-output format on this call.
	res, err := s.caller.Call(ctx, editor.Messages(data), modelcall.Options{
		Title:       st.Title,
		StoryID:     st.ID,
		Kind:        story.KindEditorBrief,
		MaxTokens:   editor.MaxTokens,
		Temperature: editor.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("editor brief: %w", err)
	}

	brief := editor.Parse(res.Text)
	if brief == nil {
		s.logger.Warn("editor brief parsed to nothing, using baseline outlines",
			"title", st.Title, "checkpoint", fb.Checkpoint)
		return nil, nil
	}
	s.logger.Info("editor brief built",
		"title", st.Title,
		"checkpoint", fb.Checkpoint,
		"revised_outlines", len(brief.RevisedOutlines))
	return brief, nil
}

func chapterSummaries(chapters []*story.Chapter) []editor.ChapterSummary {
	out := make([]editor.ChapterSummary, 0, len(chapters))
	for _, ch := range chapters {
		events := ch.Metadata.ClosingHook
		if len(ch.Metadata.KeyEvents) > 0 {
			events = ch.Metadata.KeyEvents[0]
			for _, e := range ch.Metadata.KeyEvents[1:] {
				events += "; " + e
			}
		}
		out = append(out, editor.ChapterSummary{
			Number: ch.Number,
			Title:  ch.Title,
			Events: events,
		})
	}
	return out
}

// proseSamples takes opening excerpts from the last two chapters.
func proseSamples(chapters []*story.Chapter) []editor.ProseSample {
	from := 0
	if len(chapters) > 2 {
		from = len(chapters) - 2
	}
	var out []editor.ProseSample
	for _, ch := range chapters[from:] {
		out = append(out, editor.ProseSample{
			Number: ch.Number,
			Text:   story.Excerpt(ch.Text, excerptChars),
		})
	}
	return out
}
