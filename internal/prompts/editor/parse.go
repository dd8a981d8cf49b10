package editor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fablewright/fable/internal/story"
)

// Regex parsing, not an XML decoder: model output is XML-shaped rather
// than XML-valid (stray ampersands, unclosed siblings), so match element
// boundaries permissively and take what parses.
var (
	outlineRe      = regexp.MustCompile(`(?s)<revised_outline\s+chapter="(\d+)"\s*>(.*?)</revised_outline>`)
	titleRe        = elementRe("title")
	eventsRe       = elementRe("events")
	emotionalArcRe = elementRe("emotional_arc")
	hookRe         = elementRe("chapter_hook")
	notesRe        = elementRe("editor_notes")
	beatRe         = regexp.MustCompile(`(?s)<beat>\s*(.*?)\s*</beat>`)
	styleRe        = elementRe("style_example")
)

func elementRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + name + `>\s*(.*?)\s*</` + name + `>`)
}

// Parse extracts an editor brief from the model's XML response. Returns
// nil when no revised outlines parse; the caller falls back to the
// unrevised arc outlines.
func Parse(text string) *story.EditorBrief {
	matches := outlineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	brief := &story.EditorBrief{RevisedOutlines: make(map[int]story.RevisedOutline, len(matches))}
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		body := m[2]
		ro := story.RevisedOutline{
			Chapter:      n,
			Title:        element(titleRe, body),
			Events:       element(eventsRe, body),
			EmotionalArc: element(emotionalArcRe, body),
			Hook:         element(hookRe, body),
			EditorNotes:  beats(body),
		}
		brief.RevisedOutlines[n] = ro
	}
	if len(brief.RevisedOutlines) == 0 {
		return nil
	}
	brief.StyleExample = element(styleRe, text)
	return brief
}

func element(re *regexp.Regexp, body string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return unescape(strings.TrimSpace(m[1]))
}

// beats pulls editor notes: <beat> elements when present, otherwise the
// non-empty lines of the <editor_notes> block with bullet prefixes
// stripped.
func beats(body string) []string {
	m := notesRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	block := m[1]
	var out []string
	if bs := beatRe.FindAllStringSubmatch(block, -1); len(bs) > 0 {
		for _, b := range bs {
			if s := unescape(strings.TrimSpace(b[1])); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			out = append(out, unescape(line))
		}
	}
	return out
}

var entities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescape(s string) string {
	return entities.Replace(s)
}
