// Package export renders a finished story as an EPUB 3 book.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fablewright/fable/internal/story"
)

// Book carries the story-level metadata the package document needs.
type Book struct {
	ID        string // story ID, becomes the urn:uuid publication identifier
	Title     string
	Reader    string // the child the book was written for
	Genre     string
	AgeRange  string
	Language  string // ISO 639-1 code, defaults to "en"
	CreatedAt time.Time
}

// Chapter is one body chapter in reading order.
type Chapter struct {
	Number int
	Title  string
	Text   string
}

// FromStory builds Book metadata from the story row.
func FromStory(st *story.Story) Book {
	title := st.Title
	if title == "" {
		title = "Untitled Story"
	}
	return Book{
		ID:        st.ID,
		Title:     title,
		Reader:    st.OwnerName,
		Genre:     st.Genre,
		AgeRange:  st.AgeRange,
		Language:  "en",
		CreatedAt: st.CreatedAt,
	}
}

// Builder creates EPUB 3 files.
type Builder struct {
	book     Book
	chapters []Chapter
}

// NewBuilder creates a new epub builder. Chapters must already be in
// reading order.
func NewBuilder(book Book, chapters []Chapter) *Builder {
	return &Builder{
		book:     book,
		chapters: chapters,
	}
}

// Build generates the epub and writes it to the given path, creating
// parent directories as needed.
func (b *Builder) Build(outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	return b.WriteTo(f)
}

// WriteTo writes the epub container to a writer. The mimetype entry must
// be first and stored uncompressed per the OCF spec.
func (b *Builder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	if err := b.writeMimetype(zw); err != nil {
		return err
	}
	if err := b.writeContainer(zw); err != nil {
		return err
	}
	if err := b.writePackage(zw); err != nil {
		return err
	}
	if err := b.writeNavigation(zw); err != nil {
		return err
	}
	if err := b.writeNCX(zw); err != nil {
		return err
	}
	if err := b.writeStylesheet(zw); err != nil {
		return err
	}
	if err := b.writeTitlePage(zw); err != nil {
		return err
	}
	for _, ch := range b.chapters {
		if err := b.writeChapter(zw, ch); err != nil {
			return fmt.Errorf("failed to write chapter %d: %w", ch.Number, err)
		}
	}

	return nil
}

// BuildToBuffer generates the epub and returns it as a byte buffer.
func (b *Builder) BuildToBuffer() (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := b.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Builder) writeMimetype(zw *zip.Writer) error {
	header := &zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	_, err = w.Write([]byte("application/epub+zip"))
	return err
}

func (b *Builder) writeContainer(zw *zip.Writer) error {
	content := `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	w, err := zw.Create("META-INF/container.xml")
	if err != nil {
		return fmt.Errorf("failed to create container.xml: %w", err)
	}
	_, err = w.Write([]byte(content))
	return err
}

func (b *Builder) writePackage(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/content.opf")
	if err != nil {
		return fmt.Errorf("failed to create content.opf: %w", err)
	}
	_, err = w.Write([]byte(b.generatePackage()))
	return err
}

func (b *Builder) writeNavigation(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/nav.xhtml")
	if err != nil {
		return fmt.Errorf("failed to create nav.xhtml: %w", err)
	}
	_, err = w.Write([]byte(b.generateNavigation()))
	return err
}

// writeNCX keeps older readers working; EPUB 3 readers use nav.xhtml.
func (b *Builder) writeNCX(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/toc.ncx")
	if err != nil {
		return fmt.Errorf("failed to create toc.ncx: %w", err)
	}
	_, err = w.Write([]byte(b.generateNCX()))
	return err
}

func (b *Builder) writeStylesheet(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/styles/style.css")
	if err != nil {
		return fmt.Errorf("failed to create style.css: %w", err)
	}
	_, err = w.Write([]byte(defaultStylesheet))
	return err
}

func (b *Builder) writeTitlePage(zw *zip.Writer) error {
	w, err := zw.Create("OEBPS/title.xhtml")
	if err != nil {
		return fmt.Errorf("failed to create title.xhtml: %w", err)
	}
	_, err = w.Write([]byte(b.generateTitlePage()))
	return err
}

func (b *Builder) writeChapter(zw *zip.Writer, ch Chapter) error {
	filename := fmt.Sprintf("OEBPS/chapters/%s.xhtml", chapterFileID(ch))
	w, err := zw.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	_, err = w.Write([]byte(b.generateChapterXHTML(ch)))
	return err
}

// chapterFileID is the manifest id and file stem for a chapter.
func chapterFileID(ch Chapter) string {
	return fmt.Sprintf("ch_%03d", ch.Number)
}

func (b *Builder) identifier() string {
	return "urn:uuid:" + b.book.ID
}

const defaultStylesheet = `/* Fable EPUB stylesheet */

body {
  font-family: Georgia, "Times New Roman", serif;
  font-size: 1em;
  line-height: 1.6;
  margin: 1em;
  text-align: justify;
}

h1, h2, h3 {
  font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
  font-weight: bold;
  margin-top: 1.5em;
  margin-bottom: 0.5em;
  text-align: left;
}

h1 {
  font-size: 1.8em;
}

p {
  margin: 0.5em 0;
  text-indent: 1.5em;
}

p:first-of-type,
h1 + p, h2 + p, hr + p {
  text-indent: 0;
}

hr {
  border: none;
  text-align: center;
  margin: 1.5em 0;
}

hr::after {
  content: "* * *";
  letter-spacing: 0.5em;
}

.chapter-title {
  text-align: center;
  margin-top: 3em;
  margin-bottom: 2em;
}

.chapter-number {
  font-size: 0.9em;
  text-transform: uppercase;
  letter-spacing: 0.1em;
  margin-bottom: 0.5em;
}

.title-page {
  text-align: center;
  margin-top: 30%;
}

.title-page h1 {
  font-size: 2.2em;
  text-align: center;
}

.dedication {
  font-style: italic;
  margin-top: 2em;
}
`
