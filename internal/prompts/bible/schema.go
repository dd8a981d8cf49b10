package bible

import (
	"encoding/json"
	"fmt"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

// Schema is the JSON schema for the bible response.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "story_bible",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"world_rules": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"protagonist": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":                   map[string]any{"type": "string"},
						"description":            map[string]any{"type": "string"},
						"internal_contradiction": map[string]any{"type": "string"},
						"false_belief":           map[string]any{"type": "string"},
						"voice_notes":            map[string]any{"type": "string"},
					},
					"required":             []string{"name", "internal_contradiction", "false_belief", "voice_notes"},
					"additionalProperties": false,
				},
				"antagonist": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":                map[string]any{"type": "string"},
						"description":         map[string]any{"type": "string"},
						"sympathetic_element": map[string]any{"type": "string"},
					},
					"required":             []string{"name", "sympathetic_element"},
					"additionalProperties": false,
				},
				"supporting_characters": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"role":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
						},
						"required":             []string{"name"},
						"additionalProperties": false,
					},
				},
				"central_conflict": map[string]any{"type": "string"},
				"stakes":           map[string]any{"type": "string"},
				"themes": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"key_locations": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
						},
						"required":             []string{"name"},
						"additionalProperties": false,
					},
				},
				"timeline": map[string]any{"type": "string"},
			},
			"required":             story.BibleFields,
			"additionalProperties": true,
		},
	},
}

// ResponseFormat returns the structured-output format for the bible call.
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
	return story.BibleFields
}

// Parse converts a gated response document into a Bible.
func Parse(doc map[string]any) (story.Bible, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return story.Bible{}, fmt.Errorf("failed to re-encode bible response: %w", err)
	}
	var b story.Bible
	if err := json.Unmarshal(raw, &b); err != nil {
		return story.Bible{}, fmt.Errorf("failed to decode bible: %w", err)
	}
	return b, nil
}
