package crawl

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Discoverer finds the documentation pages linked from a root page.
type Discoverer struct {
	opts   Options
	logger *slog.Logger
}

// NewDiscoverer creates a Discoverer. Zero-valued options take their defaults.
func NewDiscoverer(opts Options, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{opts: opts.withDefaults(), logger: logger}
}

// Discover fetches rootURL and returns the absolute URLs of the pages it
// links to, in first-appearance order, deduplicated and capped at MaxLinks.
// The root itself is only included when the page links to it.
func (d *Discoverer) Discover(ctx context.Context, rootURL string) ([]string, error) {
	doc, base, err := fetchDocument(ctx, d.opts, rootURL)
	if err != nil {
		return nil, err
	}

	links := collectLinks(doc, base, d.opts)
	d.logger.Debug("discovered links", "url", rootURL, "count", len(links))
	return links, nil
}

func collectLinks(doc *html.Node, base *url.URL, opts Options) []string {
	seen := make(map[string]struct{})
	var links []string

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href, ok := attr(n, "href"); ok {
				if link, ok := resolveLink(base, href, opts); ok {
					if _, dup := seen[link]; !dup {
						seen[link] = struct{}{}
						links = append(links, link)
						if len(links) >= opts.MaxLinks {
							return false
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return links
}

// resolveLink resolves href against base and reports whether the result is a
// followable documentation page.
func resolveLink(base *url.URL, href string, opts Options) (string, bool) {
	href = strings.TrimSpace(href)
	if strings.Contains(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	link := abs.String()

	allowed := false
	for _, prefix := range opts.AllowedPrefixes {
		if strings.HasPrefix(link, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", false
	}

	path := strings.ToLower(abs.Path)
	for _, suffix := range opts.ExcludedSuffixes {
		if strings.HasSuffix(path, strings.ToLower(suffix)) {
			return "", false
		}
	}
	return link, true
}
