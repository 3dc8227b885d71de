package epub

import (
	"fmt"
	"strings"
)

const (
	navID       = "toc"
	navFilename = "toc.xhtml"
)

// generateNavigation creates the toc.xhtml navigation document with one
// entry per chapter in book order.
func (b *Builder) generateNavigation() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Table of Contents</title>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Table of Contents</h1>
    <ol>
`)
	for _, ch := range b.book.Chapters {
		fmt.Fprintf(&sb, "      <li><a href=\"%s\">%s</a></li>\n", ch.Filename(), escapeXML(ch.Title))
	}
	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)
	return sb.String()
}
