package arc

import (
	"encoding/json"
	"fmt"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

// Schema is the JSON schema for the arc response.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "chapter_arc",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chapters": map[string]any{
					"type":     "array",
					"minItems": story.TotalChapters,
					"maxItems": story.TotalChapters,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"chapter_number":      map[string]any{"type": "integer", "minimum": 1, "maximum": story.TotalChapters},
							"title":               map[string]any{"type": "string"},
							"events":              map[string]any{"type": "string"},
							"character_focus":     map[string]any{"type": "string"},
							"tension_level":       map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
							"emotional_arc":       map[string]any{"type": "string"},
							"key_dialogue_moment": map[string]any{"type": "string"},
							"chapter_hook":        map[string]any{"type": "string"},
							"key_revelations": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
							"word_count_target": map[string]any{"type": "integer"},
						},
						"required":             []string{"chapter_number", "title", "events", "chapter_hook"},
						"additionalProperties": false,
					},
				},
				"pacing_notes": map[string]any{"type": "string"},
				"subplot_threads": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"character_growth_milestones": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required":             story.ArcFields,
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the structured-output format for the arc call.
func ResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(Schema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema,
	}
}

// RequiredFields are the top-level keys the JSON gate demands of the
// response.
func RequiredFields() []string {
	return story.ArcFields
}

// Parse converts a gated response document into an Arc and enforces the
// twelve-ordered-outlines contract.
func Parse(doc map[string]any) (story.Arc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return story.Arc{}, fmt.Errorf("failed to re-encode arc response: %w", err)
	}
	var a story.Arc
	if err := json.Unmarshal(raw, &a); err != nil {
		return story.Arc{}, fmt.Errorf("failed to decode arc: %w", err)
	}

	if len(a.Chapters) != story.TotalChapters {
		return story.Arc{}, fmt.Errorf("arc has %d chapter outlines, want %d", len(a.Chapters), story.TotalChapters)
	}
	for i, ch := range a.Chapters {
		if ch.Number != i+1 {
			return story.Arc{}, fmt.Errorf("arc outline %d is numbered %d, want outlines in order 1..%d", i, ch.Number, story.TotalChapters)
		}
	}
	if a.PacingNotes == "" {
		return story.Arc{}, fmt.Errorf("arc is missing pacing notes")
	}
	if len(a.SubplotThreads) == 0 {
		return story.Arc{}, fmt.Errorf("arc is missing subplot threads")
	}
	return a, nil
}
