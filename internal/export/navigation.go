package export

import (
	"fmt"
	"strings"
)

// generateNavigation creates the nav.xhtml navigation document. A fable
// book is a flat list: title page, then the chapters in order.
func (b *Builder) generateNavigation() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Table of Contents</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Table of Contents</h1>
    <ol>
`)

	sb.WriteString(fmt.Sprintf("      <li><a href=\"title.xhtml\">%s</a></li>\n", escapeXML(b.book.Title)))
	for _, ch := range b.chapters {
		sb.WriteString(fmt.Sprintf("      <li><a href=\"chapters/%s.xhtml\">%s</a></li>\n",
			chapterFileID(ch), escapeXML(displayTitle(ch))))
	}

	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)

	return sb.String()
}

// displayTitle formats a chapter title for navigation entries.
func displayTitle(ch Chapter) string {
	if ch.Title == "" || ch.Title == fmt.Sprintf("Chapter %d", ch.Number) {
		return fmt.Sprintf("Chapter %d", ch.Number)
	}
	return fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Title)
}

// generateNCX creates the toc.ncx for EPUB 2 compatibility.
func (b *Builder) generateNCX() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="`)
	sb.WriteString(b.identifier())
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="1"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
`)

	sb.WriteString("    <navPoint id=\"navpoint-1\" playOrder=\"1\">\n")
	sb.WriteString(fmt.Sprintf("      <navLabel><text>%s</text></navLabel>\n", escapeXML(b.book.Title)))
	sb.WriteString("      <content src=\"title.xhtml\"/>\n")
	sb.WriteString("    </navPoint>\n")

	for i, ch := range b.chapters {
		order := i + 2
		sb.WriteString(fmt.Sprintf("    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", order, order))
		sb.WriteString(fmt.Sprintf("      <navLabel><text>%s</text></navLabel>\n", escapeXML(displayTitle(ch))))
		sb.WriteString(fmt.Sprintf("      <content src=\"chapters/%s.xhtml\"/>\n", chapterFileID(ch)))
		sb.WriteString("    </navPoint>\n")
	}

	sb.WriteString(`  </navMap>
</ncx>
`)

	return sb.String()
}
