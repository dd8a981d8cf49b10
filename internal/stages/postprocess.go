package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/fablewright/fable/internal/modelcall"
	"github.com/fablewright/fable/internal/prompts/entity"
	"github.com/fablewright/fable/internal/prompts/ledger"
	"github.com/fablewright/fable/internal/prompts/voice"
	"github.com/fablewright/fable/internal/story"
)

// postProcess runs the optional passes over a persisted chapter: ledger
// extraction, entity validation with surgical rewrite, and a voice pass.
// All best-effort; a failure logs and moves on, never failing the stage.
func (s *Stages) postProcess(ctx context.Context, st *story.Story, bibleRec *story.BibleRecord, ch *story.Chapter) {
	features := s.settings.Features.ForStory(st.Flags)
	text := ch.Text

	if features.CharacterLedger {
		if err := s.extractLedger(ctx, st, ch); err != nil {
			s.logger.Warn("ledger extraction failed",
				"title", st.Title, "chapter", ch.Number, "error", err)
		}
	}

	if features.EntityValidation {
		corrected, err := s.validateEntities(ctx, st, bibleRec, ch, text)
		if err != nil {
			s.logger.Warn("entity validation failed",
				"title", st.Title, "chapter", ch.Number, "error", err)
		} else if corrected != "" {
			text = corrected
		}
	}

	if features.VoiceReview {
		revised, err := s.reviewVoice(ctx, st, bibleRec, ch, text)
		if err != nil {
			s.logger.Warn("voice review failed",
				"title", st.Title, "chapter", ch.Number, "error", err)
		} else if revised != "" {
			text = revised
		}
	}
}

func (s *Stages) extractLedger(ctx context.Context, st *story.Story, ch *story.Chapter) error {
	prior := ""
	if prev, err := s.store.LoadPreviousChapters(ctx, st.ID, ch.Number, 1); err == nil && len(prev) > 0 && prev[0].Ledger != nil {
		if enc, err := story.MarshalJSONString(prev[0].Ledger); err == nil {
			prior = enc
		}
	}

	data := ledger.Data{
		ChapterNumber: ch.Number,
		Title:         ch.Title,
		Content:       ch.Text,
		PriorLedger:   prior,
	}
	res, err := s.caller.Call(ctx, ledger.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindLedger,
		MaxTokens:      ledger.MaxTokens,
		Temperature:    ledger.Temperature,
		ResponseFormat: ledger.ResponseFormat(),
	})
	if err != nil {
		return err
	}
	doc, err := s.gate.Parse(res.Text, ledger.RequiredFields()...)
	if err != nil {
		return err
	}
	l, err := ledger.Parse(doc)
	if err != nil {
		return err
	}
	if err := s.store.UpdateChapterLedger(ctx, ch.ID, l); err != nil {
		return fmt.Errorf("storing ledger: %w", err)
	}
	s.logger.Info("ledger extracted",
		"title", st.Title, "chapter", ch.Number, "characters", len(l.Characters))
	return nil
}

// validateEntities returns the corrected text when the validator rewrote
// the chapter, "" when it was clean.
func (s *Stages) validateEntities(ctx context.Context, st *story.Story, bibleRec *story.BibleRecord, ch *story.Chapter, text string) (string, error) {
	cast := bibleRec.Content.CastNames()
	charsJSON, err := story.MarshalJSONString(map[string]any{
		"protagonist":           bibleRec.Content.Protagonist,
		"antagonist":            bibleRec.Content.Antagonist,
		"supporting_characters": bibleRec.Content.SupportingCast,
	})
	if err != nil {
		return "", fmt.Errorf("encoding cast: %w", err)
	}

	data := entity.Data{
		CastNames:      strings.Join(cast, ", "),
		CharactersJSON: charsJSON,
		ChapterNumber:  ch.Number,
		Content:        text,
	}
	res, err := s.caller.Call(ctx, entity.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindEntityRepair,
		MaxTokens:      entity.MaxTokens,
		Temperature:    entity.Temperature,
		ResponseFormat: entity.ResponseFormat(),
	})
	if err != nil {
		return "", err
	}
	doc, err := s.gate.Parse(res.Text, entity.RequiredFields()...)
	if err != nil {
		return "", err
	}
	result, err := entity.Parse(doc)
	if err != nil {
		return "", err
	}
	if len(result.Issues) == 0 {
		return "", nil
	}

	s.logger.Info("entity issues found",
		"title", st.Title, "chapter", ch.Number, "issues", len(result.Issues))
	if result.CorrectedText == "" {
		return "", nil
	}
	if err := s.store.UpdateChapterText(ctx, ch.ID, result.CorrectedText, story.CountWords(result.CorrectedText)); err != nil {
		return "", fmt.Errorf("storing corrected text: %w", err)
	}
	return result.CorrectedText, nil
}

// reviewVoice returns the revised text when the pass rewrote the chapter,
// "" when it left the text alone.
func (s *Stages) reviewVoice(ctx context.Context, st *story.Story, bibleRec *story.BibleRecord, ch *story.Chapter, text string) (string, error) {
	notes := voiceNotes(bibleRec.Content)
	if notes == "" {
		return "", nil
	}

	data := voice.Data{
		VoiceNotes:    notes,
		ChapterNumber: ch.Number,
		Content:       text,
	}
	res, err := s.caller.Call(ctx, voice.Messages(data), modelcall.Options{
		Title:          st.Title,
		StoryID:        st.ID,
		Kind:           story.KindVoiceReview,
		MaxTokens:      voice.MaxTokens,
		Temperature:    voice.Temperature,
		ResponseFormat: voice.ResponseFormat(),
	})
	if err != nil {
		return "", err
	}
	doc, err := s.gate.Parse(res.Text, voice.RequiredFields()...)
	if err != nil {
		return "", err
	}
	result, err := voice.Parse(doc)
	if err != nil {
		return "", err
	}
	if !result.Revised {
		return "", nil
	}
	if err := s.store.UpdateChapterText(ctx, ch.ID, result.Text, story.CountWords(result.Text)); err != nil {
		return "", fmt.Errorf("storing revised text: %w", err)
	}
	s.logger.Info("voice pass revised chapter",
		"title", st.Title, "chapter", ch.Number)
	return result.Text, nil
}

// voiceNotes renders the bible's per-character voice guidance.
func voiceNotes(b story.Bible) string {
	var lines []string
	if b.Protagonist.Name != "" && b.Protagonist.VoiceNotes != "" {
		lines = append(lines, fmt.Sprintf("%s: %s", b.Protagonist.Name, b.Protagonist.VoiceNotes))
	}
	for _, c := range b.SupportingCast {
		if c.Name != "" && c.Description != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", c.Name, c.Description))
		}
	}
	return strings.Join(lines, "\n")
}
