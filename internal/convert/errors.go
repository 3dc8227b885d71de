// Package convert runs documentation-to-EPUB conversions and exposes the
// task operations used by the HTTP API and CLI.
package convert

import "errors"

var (
	// ErrInvalidInput is returned for source URLs that are not absolute http(s) URLs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoLinksFound is returned when the root page links to no documentation pages.
	ErrNoLinksFound = errors.New("no documentation links found")
	// ErrInvalidState is returned when downloading a task that has not completed.
	ErrInvalidState = errors.New("task not completed")
	// ErrUnavailable is returned when a task cannot be queued.
	ErrUnavailable = errors.New("conversion queue unavailable")
)
