// Package jsongate parses model output into JSON objects, tolerating the
// usual failure shapes: prose around the payload, markdown fences, and
// truncated output from hitting a token ceiling.
package jsongate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrBadShape is returned when model output cannot be parsed into an
// object with the required top-level fields.
var ErrBadShape = errors.New("model output has wrong shape")

// fencedBlock matches a markdown code fence with an optional json tag.
// The closing fence is optional so truncated output still extracts.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)(?:```|$)")

// trailingComma matches a comma immediately before a closing brace or
// bracket, the most common near-miss in model JSON.
var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// Gate parses raw model text into JSON objects.
type Gate struct {
	logger *slog.Logger
}

// New creates a Gate that logs which parse branch succeeded.
func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger}
}

// Parse extracts a JSON object from raw model output and asserts that
// every required key is present at the top level.
//
// Three branches run in order: direct parse, last fenced block, repair
// pass. Each success is logged; shape failures are returned, never
// swallowed.
func (g *Gate) Parse(raw string, required ...string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty output", ErrBadShape)
	}

	// Branch 1: direct parse.
	if obj, err := parseObject(trimmed); err == nil {
		g.logger.Debug("parsed model output", "branch", "direct")
		return g.requireFields(obj, required)
	}

	// Branch 2: last fenced block.
	if body, ok := lastFencedBlock(trimmed); ok {
		if obj, err := parseObject(body); err == nil {
			g.logger.Debug("parsed model output", "branch", "fence")
			return g.requireFields(obj, required)
		}
		// The fence body is a better repair candidate than the
		// surrounding prose.
		trimmed = body
	}

	// Branch 3: repair pass.
	repaired := Repair(trimmed)
	obj, err := parseObject(repaired)
	if err != nil {
		g.logger.Warn("model output unparseable after repair",
			"head", head(raw, 120),
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrBadShape, err)
	}
	g.logger.Debug("parsed model output", "branch", "repair")
	return g.requireFields(obj, required)
}

// requireFields asserts every required key exists at the top level.
func (g *Gate) requireFields(obj map[string]any, required []string) (map[string]any, error) {
	for _, f := range required {
		if _, ok := obj[f]; !ok {
			g.logger.Warn("model output missing required field", "field", f)
			return nil, fmt.Errorf("%w: missing required field %q", ErrBadShape, f)
		}
	}
	return obj, nil
}

// parseObject decodes s into a JSON object, rejecting non-object payloads.
func parseObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("payload is null")
	}
	return obj, nil
}

// lastFencedBlock returns the body of the last markdown code fence in s.
func lastFencedBlock(s string) (string, bool) {
	matches := fencedBlock.FindAllStringSubmatch(s, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		body := strings.TrimSpace(matches[i][1])
		if body != "" {
			return body, true
		}
	}
	return "", false
}

// Repair makes truncated or decorated JSON parseable:
//
//   - trailing content past the last balanced top-level closing brace is
//     truncated,
//   - if the scan ends inside a string, the string is closed,
//   - unclosed brackets and braces are closed in nesting order,
//   - trailing commas before } or ] are stripped.
//
// Repair of already-valid JSON is a no-op, so it is safe to apply twice.
func Repair(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	inString := false
	escaped := false
	braceDepth := 0
	bracketDepth := 0
	lastBalanced := -1
	var open []byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			braceDepth++
			open = append(open, '{')
		case '[':
			bracketDepth++
			open = append(open, '[')
		case '}':
			braceDepth--
			if n := len(open); n > 0 && open[n-1] == '{' {
				open = open[:n-1]
			}
			if braceDepth == 0 && bracketDepth == 0 {
				lastBalanced = i + 1
			}
		case ']':
			bracketDepth--
			if n := len(open); n > 0 && open[n-1] == '[' {
				open = open[:n-1]
			}
		}
	}

	if lastBalanced > 0 {
		// Balanced object found: drop anything after it.
		s = s[:lastBalanced]
	} else {
		// Never balanced: close what the model left open.
		var b strings.Builder
		b.WriteString(s)
		if inString {
			b.WriteByte('"')
		}
		for i := len(open) - 1; i >= 0; i-- {
			switch open[i] {
			case '{':
				b.WriteByte('}')
			case '[':
				b.WriteByte(']')
			}
		}
		s = b.String()
	}

	return trailingComma.ReplaceAllString(s, "$1")
}

// head truncates s for log lines.
func head(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
