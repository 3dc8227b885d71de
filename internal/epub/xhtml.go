package epub

import (
	"fmt"
	"strings"
)

// generateChapterXHTML wraps a chapter's content in an XHTML document headed
// by its title.
func (b *Builder) generateChapterXHTML(ch Chapter) string {
	var sb strings.Builder
	title := escapeXML(ch.Title)

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
`)
	fmt.Fprintf(&sb, "  <title>%s</title>\n", title)
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "  <h1>%s</h1>\n", title)
	sb.WriteString(ch.Content)
	sb.WriteString("\n</body>\n</html>\n")

	return sb.String()
}
