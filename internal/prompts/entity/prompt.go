// Package entity renders the cast-continuity validation prompt that can
// surgically rewrite a persisted chapter.
package entity

import (
	"encoding/json"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/fablewright/fable/internal/prompts"
	"github.com/fablewright/fable/internal/providers"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

var userTemplate = template.Must(template.New("user").Parse(userPrompt))

const (
	Temperature = 0.2
	// MaxTokens must fit a full corrected chapter.
	MaxTokens = 8192
)

// Data carries the cast list and the chapter under validation.
type Data struct {
	CastNames      string
	CharactersJSON string
	ChapterNumber  int
	Content        string
}

// SystemPrompt returns the validation system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the validation request.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the validation conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}

// Schema is the response format for entity validation.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "entity_check",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"issues": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"corrected_text": map[string]any{"type": "string"},
			},
			"required":             []string{"issues"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for validation.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"issues"} }

// Result is a parsed validation response.
type Result struct {
	Issues        []string `json:"issues"`
	CorrectedText string   `json:"corrected_text"`
}

// Parse extracts the validation result from a repaired response document.
func Parse(doc map[string]any) (Result, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("re-encoding entity response: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("decoding entity response: %w", err)
	}
	return r, nil
}
