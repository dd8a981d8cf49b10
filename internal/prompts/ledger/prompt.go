// Package ledger renders the character-continuity extraction prompt run
// after a chapter persists.
package ledger

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
	Temperature = 0.2
	MaxTokens   = 2048
)

// Data carries the chapter to extract from.
type Data struct {
	ChapterNumber int
	Title         string
	Content       string
	PriorLedger   string
}

// SystemPrompt returns the extraction system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the extraction request.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the extraction conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}

// Schema is the response format for ledger extraction.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "character_ledger",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"characters": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":            map[string]any{"type": "string"},
							"emotional_state": map[string]any{"type": "string"},
							"voice_notes":     map[string]any{"type": "string"},
							"facts": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
						},
						"required":             []string{"name"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"characters"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for extraction.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"characters"} }

// Parse extracts the ledger from a repaired response document.
func Parse(doc map[string]any) (*story.ChapterLedger, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding ledger response: %w", err)
	}
	var l story.ChapterLedger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decoding ledger response: %w", err)
	}
	if len(l.Characters) == 0 {
		return nil, fmt.Errorf("ledger response has no characters")
	}
	return &l, nil
}
