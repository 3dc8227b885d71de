package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SubmitRequest is the body of a conversion request.
type SubmitRequest struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

const submitRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "url":   {"type": "string", "minLength": 1, "maxLength": 2048},
    "title": {"type": "string", "maxLength": 512}
  },
  "required": ["url"],
  "additionalProperties": false
}`

var compileSubmitSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("submit_request.json", strings.NewReader(submitRequestSchema)); err != nil {
		return nil, fmt.Errorf("failed to load submit request schema: %w", err)
	}
	return compiler.Compile("submit_request.json")
})

// DecodeSubmitRequest validates a JSON request body against the submit
// schema and decodes it. Violations wrap ErrInvalidInput.
func DecodeSubmitRequest(body []byte) (SubmitRequest, error) {
	schema, err := compileSubmitSchema()
	if err != nil {
		return SubmitRequest{}, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return SubmitRequest{}, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return SubmitRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var req SubmitRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		return SubmitRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return req, nil
}

// ParseSourceURL accepts only absolute http or https URLs with a host.
func ParseSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a URL", ErrInvalidInput, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q must use http or https", ErrInvalidInput, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidInput, raw)
	}
	return u, nil
}

// DefaultTitle names a book after the documentation host.
func DefaultTitle(u *url.URL) string {
	return "AWS Documentation - " + u.Host
}

// FileName turns a book title into a safe download file name.
func FileName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '-'
		}
		return r
	}, title)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		name = "aws-documentation"
	}
	return name + ".epub"
}
