// Package crawl discovers documentation pages reachable from a root URL and
// extracts the primary content of each page.
package crawl

import (
	"net/http"
	"time"
)

// Defaults applied when an Options field is left zero.
const (
	DefaultMaxLinks     = 50
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "epubify/1.0 (+https://github.com/jackzampolin/epubify)"
)

// DefaultAllowedPrefixes are the URL prefixes a discovered link must start with.
var DefaultAllowedPrefixes = []string{
	"https://docs.aws.amazon.com",
	"https://aws.amazon.com/documentation",
}

// DefaultExcludedSuffixes are path suffixes that mark non-HTML downloads.
var DefaultExcludedSuffixes = []string{".pdf", ".zip", ".tar.gz"}

// Options control which links are followed and how pages are fetched.
type Options struct {
	AllowedPrefixes  []string
	ExcludedSuffixes []string
	MaxLinks         int
	Timeout          time.Duration
	MaxBodyBytes     int64
	UserAgent        string

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// DefaultOptions returns Options with every field set to its default.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.AllowedPrefixes == nil {
		o.AllowedPrefixes = DefaultAllowedPrefixes
	}
	if o.ExcludedSuffixes == nil {
		o.ExcludedSuffixes = DefaultExcludedSuffixes
	}
	if o.MaxLinks <= 0 {
		o.MaxLinks = DefaultMaxLinks
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Timeout}
}
