package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/bible"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// Bible generates and persists the story bible. Idempotent: an existing
// bible corrects progress and returns without a model call. Error
// bookkeeping (last_error, retry counts) belongs to the step retry
// wrapper, not here; chapters_generated is never touched.
func (s *Stages) Bible(ctx context.Context, st *story.Story) error {
	if existing, err := s.store.LoadBible(ctx, st.ID); err == nil {
		s.logger.Info("bible already exists, skipping generation",
			"title", st.Title, "bible_id", existing.ID)
		return s.markBibleDone(ctx, st)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for existing bible: %w", err)
	}

	if _, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.CurrentStep = story.StepGeneratingBible
	}); err != nil {
		return fmt.Errorf("marking bible generation: %w", err)
	}

	data := bible.Data{
		Premise:          st.Premise,
		Genre:            st.Genre,
		AgeRange:         st.AgeRange,
		PreferencesBlock: statedPreferences(st.Preferences),
	}
	if st.NameConfirmed {
		data.ReaderName = st.OwnerName
	}

	res, err := s.caller.Call(ctx, bible.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindBible,
		MaxTokens:      bible.MaxTokens,
		Temperature:    bible.Temperature,
		ResponseFormat: bible.ResponseFormat(),
	})
	if err != nil {
		return fmt.Errorf("bible generation: %w", err)
	}

	doc, err := s.gate.Parse(res.Text, bible.RequiredFields()...)
	if err != nil {
		return fmt.Errorf("bible response: %w", err)
	}
	content, err := bible.Parse(doc)
	if err != nil {
		return fmt.Errorf("bible response: %w", err)
	}

	rec := &story.BibleRecord{
		StoryID: st.ID,
		Version: 1,
		Content: content,
		Model:   res.Model,
	}
	if _, err := s.store.InsertBible(ctx, rec); err != nil {
		return fmt.Errorf("persisting bible: %w", err)
	}

	s.logger.Info("bible created",
		"title", st.Title,
		"protagonist", content.Protagonist.Name,
		"locations", len(content.KeyLocations))
	return s.markBibleDone(ctx, st)
}

func (s *Stages) markBibleDone(ctx context.Context, st *story.Story) error {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.BibleComplete = true
		p.CurrentStep = story.StepBibleCreated
	})
	if err != nil {
		return fmt.Errorf("marking bible complete: %w", err)
	}
	return nil
}
