package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var errBodyTooLarge = errors.New("response body exceeds size limit")

// fetchDocument retrieves pageURL and parses it as HTML. It returns the parsed
// tree and the URL of the final response after redirects.
func fetchDocument(ctx context.Context, opts Options, pageURL string) (*html.Node, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, &FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, nil, &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, nil, &ParseError{URL: pageURL, Err: fmt.Errorf("content type %q: %w", ct, err)}
		}
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, nil, &ParseError{URL: pageURL, Err: fmt.Errorf("unsupported content type %q", mediaType)}
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodyBytes+1))
	if err != nil {
		return nil, nil, &FetchError{URL: pageURL, Err: err}
	}
	if int64(len(body)) > opts.MaxBodyBytes {
		return nil, nil, &FetchError{URL: pageURL, Err: errBodyTooLarge}
	}

	decoded, err := charset.NewReader(bytes.NewReader(body), ct)
	if err != nil {
		return nil, nil, &ParseError{URL: pageURL, Err: err}
	}
	doc, err := html.Parse(decoded)
	if err != nil {
		return nil, nil, &ParseError{URL: pageURL, Err: err}
	}
	return doc, resp.Request.URL, nil
}

// findFirst returns the first element in document order matching a.
func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textContent concatenates all text beneath n.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// hasContent reports whether n holds any element or non-blank text. The
// parser always synthesizes a <body>, so an empty one means the page had none.
func hasContent(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return true
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
