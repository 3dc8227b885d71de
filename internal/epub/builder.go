// Package epub assembles page fragments into a book and packages it as an
// EPUB 3 archive.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// MediaType is the EPUB mimetype, written first and uncompressed.
const MediaType = "application/epub+zip"

// DefaultCreator is the dc:creator recorded when a Book has none.
const DefaultCreator = "epubify"

// Book is an ordered list of chapters plus the metadata of the publication.
type Book struct {
	ID        string
	Title     string
	Creator   string
	Language  string // ISO 639-1 code (e.g., "en")
	CreatedAt time.Time
	Chapters  []Chapter
}

// Chapter is one page of the book.
type Chapter struct {
	ID        string // manifest id, also the file stem (e.g., "chapter0")
	Title     string
	Content   string // markup inserted verbatim after the heading
	SourceURL string
}

// Filename returns the chapter's path relative to OEBPS/.
func (c Chapter) Filename() string {
	return c.ID + ".xhtml"
}

// PackagingError reports a failure to write the archive to disk.
type PackagingError struct {
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package epub %s: %v", e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// Builder creates EPUB 3 archives.
type Builder struct {
	book Book
}

// NewBuilder creates a new epub builder.
func NewBuilder(book Book) *Builder {
	if book.Language == "" {
		book.Language = "en"
	}
	if book.Creator == "" {
		book.Creator = DefaultCreator
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now()
	}
	return &Builder{book: book}
}

// Build writes the archive to outputPath. The file is written under a
// temporary name and renamed into place, so outputPath never holds a
// partial archive.
func (b *Builder) Build(outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PackagingError{Path: outputPath, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return &PackagingError{Path: outputPath, Err: err}
	}
	tmpPath := tmp.Name()

	if err := b.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PackagingError{Path: outputPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PackagingError{Path: outputPath, Err: err}
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return &PackagingError{Path: outputPath, Err: err}
	}
	return nil
}

// WriteTo writes the epub to a writer.
func (b *Builder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)

	if err := b.writeMimetype(zw); err != nil {
		return err
	}
	if err := b.writeEntry(zw, "META-INF/container.xml", containerXML); err != nil {
		return err
	}
	if err := b.writeEntry(zw, "OEBPS/content.opf", b.generatePackage()); err != nil {
		return err
	}
	if err := b.writeEntry(zw, "OEBPS/"+navFilename, b.generateNavigation()); err != nil {
		return err
	}
	for _, ch := range b.book.Chapters {
		if err := b.writeEntry(zw, "OEBPS/"+ch.Filename(), b.generateChapterXHTML(ch)); err != nil {
			return fmt.Errorf("failed to write chapter %s: %w", ch.ID, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
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

// writeMimetype writes the mimetype entry, which readers expect first and stored.
func (b *Builder) writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     "mimetype",
		Method:   zip.Store,
		Modified: b.book.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	_, err = io.WriteString(w, MediaType)
	return err
}

func (b *Builder) writeEntry(zw *zip.Writer, name, content string) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: b.book.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, err = io.WriteString(w, content)
	return err
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
