package store

import (
	"encoding/json"
	"time"

	"github.com/fablewright/fable/internal/story"
)

// Conversions between domain structs and document-store maps. Structured
// values (progress, preferences, reviews...) live in JSON string columns;
// timestamps are RFC3339.

func storyToInput(s *story.Story) (map[string]any, error) {
	progress, err := story.MarshalJSONString(s.Progress)
	if err != nil {
		return nil, err
	}
	prefs, err := story.MarshalJSONString(s.Preferences)
	if err != nil {
		return nil, err
	}
	flags, err := story.MarshalJSONString(s.Flags)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"owner":          s.Owner,
		"owner_name":     s.OwnerName,
		"name_confirmed": s.NameConfirmed,
		"title":          s.Title,
		"genre":          s.Genre,
		"premise":        s.Premise,
		"premise_ref":    s.PremiseRef,
		"age_range":      s.AgeRange,
		"preferences":    prefs,
		"flags":          flags,
		"model":          s.Model,
		"status":         s.Status,
		"progress":       progress,
		"bible_ref":      s.BibleRef,
		"cover_ref":      s.CoverRef,
		"cover_url":      s.CoverURL,
		"created_at":     s.CreatedAt.Format(time.RFC3339),
		"updated_at":     s.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func parseStory(doc map[string]any) *story.Story {
	s := &story.Story{}

	s.ID = getStr(doc, "_docID")
	s.Owner = getStr(doc, "owner")
	s.OwnerName = getStr(doc, "owner_name")
	s.NameConfirmed = getBool(doc, "name_confirmed")
	s.Title = getStr(doc, "title")
	s.Genre = getStr(doc, "genre")
	s.Premise = getStr(doc, "premise")
	s.PremiseRef = getStr(doc, "premise_ref")
	s.AgeRange = getStr(doc, "age_range")
	s.Model = getStr(doc, "model")
	s.Status = getStr(doc, "status")
	s.BibleRef = getStr(doc, "bible_ref")
	s.CoverRef = getStr(doc, "cover_ref")
	s.CoverURL = getStr(doc, "cover_url")
	s.CreatedAt = getTime(doc, "created_at")
	s.UpdatedAt = getTime(doc, "updated_at")

	if raw := getStr(doc, "progress"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &s.Progress)
	}
	if raw := getStr(doc, "preferences"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &s.Preferences)
	}
	if raw := getStr(doc, "flags"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &s.Flags)
	}

	return s
}

var storyFields = []string{
	"_docID", "owner", "owner_name", "name_confirmed", "title", "genre",
	"premise", "premise_ref", "age_range", "preferences", "flags", "model",
	"status", "progress", "bible_ref", "cover_ref", "cover_url",
	"created_at", "updated_at",
}

func bibleToInput(rec *story.BibleRecord) (map[string]any, error) {
	content, err := story.MarshalJSONString(rec.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"story_id":   rec.StoryID,
		"version":    rec.Version,
		"content":    content,
		"model":      rec.Model,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
	}, nil
}

func parseBible(doc map[string]any) *story.BibleRecord {
	rec := &story.BibleRecord{
		ID:        getStr(doc, "_docID"),
		StoryID:   getStr(doc, "story_id"),
		Version:   getInt(doc, "version"),
		Model:     getStr(doc, "model"),
		CreatedAt: getTime(doc, "created_at"),
	}
	if raw := getStr(doc, "content"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Content)
	}
	return rec
}

var bibleFields = []string{"_docID", "story_id", "version", "content", "model", "created_at"}

func arcToInput(rec *story.ArcRecord) (map[string]any, error) {
	content, err := story.MarshalJSONString(rec.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"story_id":   rec.StoryID,
		"arc_number": rec.ArcNumber,
		"content":    content,
		"summary":    rec.Summary,
		"model":      rec.Model,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
	}, nil
}

func parseArc(doc map[string]any) *story.ArcRecord {
	rec := &story.ArcRecord{
		ID:        getStr(doc, "_docID"),
		StoryID:   getStr(doc, "story_id"),
		ArcNumber: getInt(doc, "arc_number"),
		Summary:   getStr(doc, "summary"),
		Model:     getStr(doc, "model"),
		CreatedAt: getTime(doc, "created_at"),
	}
	if raw := getStr(doc, "content"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Content)
	}
	return rec
}

var arcFields = []string{"_docID", "story_id", "arc_number", "content", "summary", "model", "created_at"}

func chapterToInput(ch *story.Chapter) (map[string]any, error) {
	input := map[string]any{
		"story_id":      ch.StoryID,
		"number":        ch.Number,
		"title":         ch.Title,
		"text":          ch.Text,
		"word_count":    ch.WordCount,
		"quality_score": ch.QualityScore,
		"regenerations": ch.Regenerations,
		"model":         ch.Model,
		"created_at":    ch.CreatedAt.Format(time.RFC3339),
	}

	if ch.Review != nil {
		review, err := story.MarshalJSONString(ch.Review)
		if err != nil {
			return nil, err
		}
		input["review"] = review
	}
	if ch.Ledger != nil {
		ledger, err := story.MarshalJSONString(ch.Ledger)
		if err != nil {
			return nil, err
		}
		input["ledger"] = ledger
	}
	metadata, err := story.MarshalJSONString(ch.Metadata)
	if err != nil {
		return nil, err
	}
	input["metadata"] = metadata

	return input, nil
}

func parseChapter(doc map[string]any) *story.Chapter {
	ch := &story.Chapter{
		ID:            getStr(doc, "_docID"),
		StoryID:       getStr(doc, "story_id"),
		Number:        getInt(doc, "number"),
		Title:         getStr(doc, "title"),
		Text:          getStr(doc, "text"),
		WordCount:     getInt(doc, "word_count"),
		QualityScore:  getFloat(doc, "quality_score"),
		Regenerations: getInt(doc, "regenerations"),
		Model:         getStr(doc, "model"),
		CreatedAt:     getTime(doc, "created_at"),
	}
	if raw := getStr(doc, "review"); raw != "" {
		var review story.QualityReview
		if err := json.Unmarshal([]byte(raw), &review); err == nil {
			ch.Review = &review
		}
	}
	if raw := getStr(doc, "ledger"); raw != "" {
		var ledger story.ChapterLedger
		if err := json.Unmarshal([]byte(raw), &ledger); err == nil {
			ch.Ledger = &ledger
		}
	}
	if raw := getStr(doc, "metadata"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &ch.Metadata)
	}
	return ch
}

var chapterFields = []string{
	"_docID", "story_id", "number", "title", "text", "word_count",
	"quality_score", "review", "ledger", "metadata", "regenerations",
	"model", "created_at",
}

func feedbackToInput(fb *story.Feedback) (map[string]any, error) {
	quotes, err := story.MarshalJSONString(fb.Quotes)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"story_id":   fb.StoryID,
		"checkpoint": fb.Checkpoint,
		"pacing":     fb.Pacing,
		"tone":       fb.Tone,
		"character":  fb.Character,
		"quotes":     quotes,
		"transcript": fb.Transcript,
		"created_at": fb.CreatedAt.Format(time.RFC3339),
	}, nil
}

func parseFeedback(doc map[string]any) *story.Feedback {
	fb := &story.Feedback{
		ID:         getStr(doc, "_docID"),
		StoryID:    getStr(doc, "story_id"),
		Checkpoint: getInt(doc, "checkpoint"),
		Pacing:     getStr(doc, "pacing"),
		Tone:       getStr(doc, "tone"),
		Character:  getStr(doc, "character"),
		Transcript: getStr(doc, "transcript"),
		CreatedAt:  getTime(doc, "created_at"),
	}
	if raw := getStr(doc, "quotes"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &fb.Quotes)
	}
	return fb
}

var feedbackFields = []string{
	"_docID", "story_id", "checkpoint", "pacing", "tone", "character",
	"quotes", "transcript", "created_at",
}

func costToInput(rec story.CostRecord) map[string]any {
	return map[string]any{
		"story_id":      rec.StoryID,
		"kind":          rec.Kind,
		"model":         rec.Model,
		"input_tokens":  rec.InputTokens,
		"output_tokens": rec.OutputTokens,
		"cost_usd":      rec.CostUSD,
		"duration_ms":   int(rec.Duration.Milliseconds()),
		"success":       rec.Success,
		"error_type":    rec.ErrorType,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
	}
}

func parseCost(doc map[string]any) story.CostRecord {
	return story.CostRecord{
		ID:           getStr(doc, "_docID"),
		StoryID:      getStr(doc, "story_id"),
		Kind:         getStr(doc, "kind"),
		Model:        getStr(doc, "model"),
		InputTokens:  getInt(doc, "input_tokens"),
		OutputTokens: getInt(doc, "output_tokens"),
		CostUSD:      getFloat(doc, "cost_usd"),
		Duration:     time.Duration(getInt(doc, "duration_ms")) * time.Millisecond,
		Success:      getBool(doc, "success"),
		ErrorType:    getStr(doc, "error_type"),
		CreatedAt:    getTime(doc, "created_at"),
	}
}

var costFields = []string{
	"_docID", "story_id", "kind", "model", "input_tokens", "output_tokens",
	"cost_usd", "duration_ms", "success", "error_type", "created_at",
}

func getStr(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func getTime(m map[string]any, key string) time.Time {
	s := getStr(m, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
