package crawl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReasonNoContent is the skip reason for pages without a content element.
const ReasonNoContent = "no content element"

// Fragment is the extracted, titled content of one page.
type Fragment struct {
	Title     string
	Content   string // outer markup of the content element, verbatim
	SourceURL string
}

// Outcome is the result of fetching one page: either a Fragment or the
// reason the page was skipped.
type Outcome struct {
	URL      string
	Position int
	Fragment *Fragment
	Reason   string
}

// Skipped reports whether the page produced no fragment.
func (o Outcome) Skipped() bool { return o.Fragment == nil }

// Skip returns an Outcome recording why pageURL was skipped.
func Skip(pageURL string, position int, reason string) Outcome {
	return Outcome{URL: pageURL, Position: position, Reason: reason}
}

// Fetcher retrieves single pages and extracts their primary content.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Zero-valued options take their defaults.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{opts: opts.withDefaults(), logger: logger}
}

// Fetch retrieves pageURL and extracts its fragment. Position is the 1-based
// index of the page in discovery order and names untitled pages. Failures are
// reported as a skipped Outcome, never as an error.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, position int) Outcome {
	doc, _, err := fetchDocument(ctx, f.opts, pageURL)
	if err != nil {
		f.logger.Warn("skipping page", "url", pageURL, "error", err)
		return Skip(pageURL, position, err.Error())
	}

	frag, ok := Extract(doc, pageURL, position)
	if !ok {
		f.logger.Warn("skipping page", "url", pageURL, "reason", ReasonNoContent)
		return Skip(pageURL, position, ReasonNoContent)
	}
	return Outcome{URL: pageURL, Position: position, Fragment: frag}
}

// Extract pulls the title and content element out of a parsed page. The
// content element is the first <main>, else the first <article>, else <body>.
// It reports false when none of them holds anything.
func Extract(doc *html.Node, pageURL string, position int) (*Fragment, bool) {
	var content *html.Node
	for _, a := range []atom.Atom{atom.Main, atom.Article, atom.Body} {
		if n := findFirst(doc, a); n != nil && (a != atom.Body || hasContent(n)) {
			content = n
			break
		}
	}
	if content == nil {
		return nil, false
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, content); err != nil {
		return nil, false
	}

	title := ""
	if n := findFirst(doc, atom.Title); n != nil {
		title = strings.TrimSpace(textContent(n))
	}
	if title == "" {
		title = fmt.Sprintf("Chapter %d", position)
	}

	return &Fragment{
		Title:     title,
		Content:   buf.String(),
		SourceURL: pageURL,
	}, true
}
