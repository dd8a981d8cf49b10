package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/arc"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// Arc generates and persists the twelve-chapter outline. Idempotent by
// (story, arc_number=1): an existing arc corrects progress and returns.
func (s *Stages) Arc(ctx context.Context, st *story.Story) error {
	if existing, err := s.store.LoadLatestArc(ctx, st.ID); err == nil {
		s.logger.Info("arc already exists, skipping generation",
			"title", st.Title, "arc_id", existing.ID)
		return s.markArcDone(ctx, st)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for existing arc: %w", err)
	}

	if _, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.CurrentStep = story.StepGeneratingArc
	}); err != nil {
		return fmt.Errorf("marking arc generation: %w", err)
	}

	_, bibleJSON, err := s.bibleJSON(ctx, st.ID)
	if err != nil {
		return err
	}

	data := arc.Data{
		BibleJSON: bibleJSON,
		AgeRange:  st.AgeRange,
	}
	res, err := s.caller.Call(ctx, arc.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindArc,
		MaxTokens:      arc.MaxTokens,
		Temperature:    arc.Temperature,
		ResponseFormat: arc.ResponseFormat(),
	})
	if err != nil {
		return fmt.Errorf("arc generation: %w", err)
	}

	doc, err := s.gate.Parse(res.Text, arc.RequiredFields()...)
	if err != nil {
		return fmt.Errorf("arc response: %w", err)
	}
	content, err := arc.Parse(doc)
	if err != nil {
		return fmt.Errorf("arc response: %w", err)
	}

	rec := &story.ArcRecord{
		StoryID:   st.ID,
		ArcNumber: 1,
		Content:   content,
		Summary:   content.PacingNotes,
		Model:     res.Model,
	}
	if _, err := s.store.InsertArc(ctx, rec); err != nil {
		return fmt.Errorf("persisting arc: %w", err)
	}

	s.logger.Info("arc created",
		"title", st.Title,
		"outlines", len(content.Chapters),
		"subplots", len(content.SubplotThreads))
	return s.markArcDone(ctx, st)
}

func (s *Stages) markArcDone(ctx context.Context, st *story.Story) error {
	_, err := s.store.UpdateProgress(ctx, st.ID, func(p *story.Progress) {
		p.ArcComplete = true
		p.CurrentStep = story.StepArcCreated
	})
	if err != nil {
		return fmt.Errorf("marking arc complete: %w", err)
	}
	return nil
}
