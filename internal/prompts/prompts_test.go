package prompts

import (
	"testing"
	"text/template"
)

func TestRender(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse("hello {{.Name}}"))
	got := Render(tmpl, "hello {{.Name}}", struct{ Name string }{"world"})
	if got != "hello world" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_FallsBackOnError(t *testing.T) {
	// Calling a method on a nil value fails at execution time; the raw
	// template text comes back instead of an empty prompt.
	tmpl := template.Must(template.New("t").Parse(`{{.Missing.Field}}`))
	got := Render(tmpl, "raw text", struct{}{})
	if got != "raw text" {
		t.Errorf("Render = %q, want fallback to raw", got)
	}
}
