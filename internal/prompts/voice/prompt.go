// Package voice renders the dialogue voice-consistency pass that may
// rewrite a chapter once after it persists.
package voice

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
	Temperature = 0.4
	// MaxTokens must fit a full rewritten chapter.
	MaxTokens = 16384
)

// Data carries the voice notes and chapter text.
type Data struct {
	VoiceNotes    string
	ChapterNumber int
	Content       string
}

// SystemPrompt returns the voice pass system prompt.
func SystemPrompt() string { return systemPrompt }

// UserPrompt renders the voice pass request.
func UserPrompt(data Data) string {
	return prompts.Render(userTemplate, userPrompt, data)
}

// Messages builds the voice pass conversation.
func Messages(data Data) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(data)},
	}
}

// Schema is the response format for the voice pass.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "voice_pass",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"revised": map[string]any{"type": "boolean"},
				"text":    map[string]any{"type": "string"},
			},
			"required":             []string{"revised", "text"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for the voice pass.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"revised", "text"} }

// Result is a parsed voice pass response.
type Result struct {
	Revised bool   `json:"revised"`
	Text    string `json:"text"`
}

// Parse extracts the voice pass result from a repaired response document.
func Parse(doc map[string]any) (Result, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("re-encoding voice response: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("decoding voice response: %w", err)
	}
	if r.Revised && r.Text == "" {
		return Result{}, fmt.Errorf("voice response marked revised but has no text")
	}
	return r, nil
}
