package export

import (
	"fmt"
	"strings"
	"time"
)

// generatePackage creates the content.opf package document.
func (b *Builder) generatePackage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)

	sb.WriteString(fmt.Sprintf("    <dc:identifier id=\"pub-id\">%s</dc:identifier>\n", b.identifier()))
	sb.WriteString(fmt.Sprintf("    <dc:title>%s</dc:title>\n", escapeXML(b.book.Title)))
	sb.WriteString("    <dc:creator>Fable</dc:creator>\n")

	lang := b.book.Language
	if lang == "" {
		lang = "en"
	}
	sb.WriteString(fmt.Sprintf("    <dc:language>%s</dc:language>\n", lang))

	if b.book.Genre != "" {
		sb.WriteString(fmt.Sprintf("    <dc:subject>%s</dc:subject>\n", escapeXML(b.book.Genre)))
	}
	if !b.book.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("    <dc:date>%s</dc:date>\n", b.book.CreatedAt.UTC().Format("2006-01-02")))
	}

	// dcterms:modified is required for EPUB 3.
	sb.WriteString(fmt.Sprintf("    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z")))

	sb.WriteString("  </metadata>\n\n")

	sb.WriteString("  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")
	sb.WriteString("    <item id=\"title\" href=\"title.xhtml\" media-type=\"application/xhtml+xml\"/>\n")

	for _, ch := range b.chapters {
		id := chapterFileID(ch)
		sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"chapters/%s.xhtml\" media-type=\"application/xhtml+xml\"/>\n",
			id, id))
	}

	sb.WriteString("  </manifest>\n\n")

	sb.WriteString("  <spine toc=\"ncx\">\n")
	sb.WriteString("    <itemref idref=\"title\"/>\n")
	for _, ch := range b.chapters {
		sb.WriteString(fmt.Sprintf("    <itemref idref=\"%s\"/>\n", chapterFileID(ch)))
	}
	sb.WriteString("  </spine>\n")

	sb.WriteString("</package>\n")

	return sb.String()
}

// escapeXML escapes special XML characters.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
