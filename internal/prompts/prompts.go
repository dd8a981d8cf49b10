// Package prompts holds the embedded prompt templates for every model call
// the pipeline makes. Each subpackage owns one call kind: its system and
// user templates, its response schema, and the parser for the response
// shape. The .tmpl files in code are the source of truth.
package prompts

import (
	"bytes"
	"text/template"
)

// Render executes a prompt template, falling back to the raw template text
// when execution fails. A prompt with an unexpanded variable is still a
// usable prompt; a dropped model call is not.
func Render(t *template.Template, raw string, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return raw
	}
	return buf.String()
}
