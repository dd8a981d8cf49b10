package export

import (
	"fmt"
	"regexp"
	"strings"
)

// generateTitlePage renders the opening page: title, genre line, and the
// dedication to the reader the book was written for.
func (b *Builder) generateTitlePage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
<div class="title-page">
`)
	sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", escapeXML(b.book.Title)))
	if b.book.Genre != "" {
		sb.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeXML("a "+b.book.Genre+" story")))
	}
	if b.book.Reader != "" {
		sb.WriteString(fmt.Sprintf("<p class=\"dedication\">%s</p>\n",
			escapeXML("written for "+b.book.Reader)))
	}
	sb.WriteString(`</div>
</body>
</html>
`)

	return sb.String()
}

// generateChapterXHTML converts a chapter's prose to an XHTML document.
func (b *Builder) generateChapterXHTML(ch Chapter) string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(displayTitle(ch)))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)

	sb.WriteString("<div class=\"chapter-title\">\n")
	sb.WriteString(fmt.Sprintf("<p class=\"chapter-number\">Chapter %d</p>\n", ch.Number))
	if ch.Title != "" && ch.Title != fmt.Sprintf("Chapter %d", ch.Number) {
		sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", escapeXML(ch.Title)))
	}
	sb.WriteString("</div>\n")

	sb.WriteString(proseToXHTML(ch.Text))

	sb.WriteString("</body>\n</html>\n")

	return sb.String()
}

// proseToXHTML converts chapter prose to XHTML paragraphs. Blank lines
// separate paragraphs, a line of --- or *** is a scene break, and single
// newlines inside a paragraph are joined with spaces.
func proseToXHTML(text string) string {
	var (
		result      strings.Builder
		inParagraph bool
	)

	flush := func() {
		if inParagraph {
			result.WriteString("</p>\n")
			inParagraph = false
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}

		if trimmed == "---" || trimmed == "***" || trimmed == "* * *" {
			flush()
			result.WriteString("<hr/>\n")
			continue
		}

		if inParagraph {
			result.WriteString(" ")
		} else {
			result.WriteString("<p>")
			inParagraph = true
		}
		result.WriteString(inlineFormatting(trimmed))
	}
	flush()

	return result.String()
}

var (
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*([^*]+)\*`)
)

// inlineFormatting escapes the text and converts the emphasis markers the
// model occasionally emits.
func inlineFormatting(text string) string {
	text = escapeXML(text)
	text = boldRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicRe.ReplaceAllString(text, "<em>$1</em>")
	return text
}
