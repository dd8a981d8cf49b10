package chapter

import (
	"encoding/json"
	"fmt"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

// Schema is the response format for a chapter draft.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "chapter",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"chapter": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"chapter_number": map[string]any{"type": "integer"},
						"title":          map[string]any{"type": "string"},
						"content":        map[string]any{"type": "string"},
						"opening_hook":   map[string]any{"type": "string"},
						"closing_hook":   map[string]any{"type": "string"},
						"key_events": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"character_development": map[string]any{"type": "string"},
					},
					"required":             []string{"chapter_number", "title", "content"},
					"additionalProperties": true,
				},
			},
			"required":             []string{"chapter"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for chapter drafts.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"chapter"} }

// Draft is a parsed chapter response.
type Draft struct {
	Number   int
	Title    string
	Content  string
	Metadata story.ChapterMetadata
}

type wireChapter struct {
	Chapter struct {
		ChapterNumber int      `json:"chapter_number"`
		Title         string   `json:"title"`
		Content       string   `json:"content"`
		OpeningHook   string   `json:"opening_hook"`
		ClosingHook   string   `json:"closing_hook"`
		KeyEvents     []string `json:"key_events"`
		CharDev       string   `json:"character_development"`
	} `json:"chapter"`
}

// Parse extracts a chapter draft from a repaired response document.
func Parse(doc map[string]any) (Draft, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Draft{}, fmt.Errorf("re-encoding chapter response: %w", err)
	}
	var w wireChapter
	if err := json.Unmarshal(raw, &w); err != nil {
		return Draft{}, fmt.Errorf("decoding chapter response: %w", err)
	}
	if w.Chapter.Title == "" {
		return Draft{}, fmt.Errorf("chapter response missing title")
	}
	if w.Chapter.Content == "" {
		return Draft{}, fmt.Errorf("chapter response missing content")
	}
	return Draft{
		Number:  w.Chapter.ChapterNumber,
		Title:   w.Chapter.Title,
		Content: w.Chapter.Content,
		Metadata: story.ChapterMetadata{
			OpeningHook:          w.Chapter.OpeningHook,
			ClosingHook:          w.Chapter.ClosingHook,
			KeyEvents:            w.Chapter.KeyEvents,
			CharacterDevelopment: w.Chapter.CharDev,
		},
	}, nil
}
