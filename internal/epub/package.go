package epub

import (
	"fmt"
	"strings"
)

// generatePackage creates the content.opf package document.
func (b *Builder) generatePackage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&sb, "    <dc:identifier id=\"pub-id\">%s</dc:identifier>\n", escapeXML(b.book.ID))
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", escapeXML(b.book.Title))
	fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", escapeXML(b.book.Creator))
	fmt.Fprintf(&sb, "    <dc:language>%s</dc:language>\n", escapeXML(b.book.Language))
	fmt.Fprintf(&sb, "    <dc:date>%s</dc:date>\n", b.book.CreatedAt.UTC().Format("2006-01-02"))
	fmt.Fprintf(&sb, "    <meta property=\"dcterms:modified\">%s</meta>\n",
		b.book.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	sb.WriteString("  </metadata>\n\n")

	sb.WriteString("  <manifest>\n")
	fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"%s\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n",
		navID, navFilename)
	for _, ch := range b.book.Chapters {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n",
			ch.ID, ch.Filename())
	}
	sb.WriteString("  </manifest>\n\n")

	sb.WriteString("  <spine>\n")
	fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", navID)
	for _, ch := range b.book.Chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", ch.ID)
	}
	sb.WriteString("  </spine>\n")
	sb.WriteString("</package>\n")

	return sb.String()
}

// escapeXML escapes special XML characters.
func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)
