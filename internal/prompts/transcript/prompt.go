// Package transcript renders the prompt that reduces a free-form reader
// interview to the structured checkpoint dimensions.
package transcript

import (
	"encoding/json"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

var userTemplate = template.Must(template.New("user").Parse(userPrompt))

const (
	// Temperature near zero: classification, not generation.
	Temperature = 0.1
	MaxTokens   = 1024
)

// Data carries the raw interview.
type Data struct {
	Checkpoint int
	Transcript string
}

// SystemPrompt returns the reduction system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the reduction request.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the reduction conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}

// Schema is the response format for interview reduction.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "checkpoint_dimensions",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pacing": map[string]any{
					"type": "string",
					"enum": []string{story.PacingHooked, story.PacingSlow, story.PacingFast},
				},
				"tone": map[string]any{
					"type": "string",
					"enum": []string{story.ToneRight, story.ToneSerious, story.ToneLight},
				},
				"character": map[string]any{
					"type": "string",
					"enum": []string{story.CharacterLove, story.CharacterWarming, story.CharacterNotClicking},
				},
				"quotes": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required":             []string{"pacing", "tone", "character"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for reduction.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"pacing", "tone", "character"} }

// Dimensions is a parsed reduction.
type Dimensions struct {
	Pacing    string   `json:"pacing"`
	Tone      string   `json:"tone"`
	Character string   `json:"character"`
	Quotes    []string `json:"quotes"`
}

// Parse extracts the dimensions from a repaired response document.
func Parse(doc map[string]any) (Dimensions, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Dimensions{}, fmt.Errorf("re-encoding transcript response: %w", err)
	}
	var d Dimensions
	if err := json.Unmarshal(raw, &d); err != nil {
		return Dimensions{}, fmt.Errorf("decoding transcript response: %w", err)
	}
	if d.Pacing == "" || d.Tone == "" || d.Character == "" {
		return Dimensions{}, fmt.Errorf("transcript response missing a dimension")
	}
	return d, nil
}
