package stages

import (
	"context"
	"fmt"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/transcript"
	"github.com/fablewright/fable/internal/story"
)

// ReduceTranscript fills a feedback row's structured dimensions from its
// free-form interview transcript, in place, before the row is persisted.
// A row that already carries dimensions (or has no transcript) is left
// alone.
func (s *Stages) ReduceTranscript(ctx context.Context, st *story.Story, fb *story.Feedback) error {
	if fb.Transcript == "" || fb.HasDimensions() {
		return nil
	}

	data := transcript.Data{
		Checkpoint: fb.Checkpoint,
		Transcript: fb.Transcript,
	}
	res, err := s.caller.Call(ctx, transcript.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindTranscript,
		MaxTokens:      transcript.MaxTokens,
		Temperature:    transcript.Temperature,
		ResponseFormat: transcript.ResponseFormat(),
	})
	if err != nil {
		return fmt.Errorf("transcript reduction: %w", err)
	}
	doc, err := s.gate.Parse(res.Text, transcript.RequiredFields()...)
	if err != nil {
		return fmt.Errorf("transcript response: %w", err)
	}
	dims, err := transcript.Parse(doc)
	if err != nil {
		return fmt.Errorf("transcript response: %w", err)
	}

	fb.Pacing = dims.Pacing
	fb.Tone = dims.Tone
	fb.Character = dims.Character
	if len(dims.Quotes) > 0 {
		fb.Quotes = dims.Quotes
	}
	s.logger.Info("transcript reduced",
		"title", st.Title,
		"checkpoint", fb.Checkpoint,
		"pacing", fb.Pacing,
		"tone", fb.Tone,
		"character", fb.Character)
	return nil
}
