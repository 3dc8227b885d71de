package convert

import (
	"errors"
	"net/url"
	"testing"
)

func TestDecodeSubmitRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    SubmitRequest
		wantErr bool
	}{
		{name: "url only", body: `{"url":"https://docs.aws.amazon.com/s3/"}`, want: SubmitRequest{URL: "https://docs.aws.amazon.com/s3/"}},
		{name: "with title", body: `{"url":"https://docs.aws.amazon.com/s3/","title":"S3"}`, want: SubmitRequest{URL: "https://docs.aws.amazon.com/s3/", Title: "S3"}},
		{name: "missing url", body: `{"title":"S3"}`, wantErr: true},
		{name: "empty url", body: `{"url":""}`, wantErr: true},
		{name: "wrong type", body: `{"url":42}`, wantErr: true},
		{name: "unknown field", body: `{"url":"https://x","depth":3}`, wantErr: true},
		{name: "malformed", body: `{"url":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSubmitRequest([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("DecodeSubmitRequest() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeSubmitRequest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeSubmitRequest() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSourceURL(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://docs.aws.amazon.com/lambda/", true},
		{"http://localhost:8080/docs", true},
		{"  https://docs.aws.amazon.com/  ", true},
		{"not-a-url", false},
		{"/relative/path", false},
		{"mailto:someone@example.com", false},
		{"https:///no-host", false},
		{"://broken", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseSourceURL(tt.raw)
			if tt.ok && err != nil {
				t.Errorf("ParseSourceURL() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseSourceURL() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestDefaultTitle(t *testing.T) {
	u, _ := url.Parse("https://docs.aws.amazon.com/lambda/")
	if got := DefaultTitle(u); got != "AWS Documentation - docs.aws.amazon.com" {
		t.Errorf("DefaultTitle() = %q", got)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Lambda Guide", "Lambda Guide.epub"},
		{"AWS Documentation - docs.aws.amazon.com", "AWS Documentation - docs.aws.amazon.com.epub"},
		{"a/b\\c:d", "a-b-c-d.epub"},
		{"  ", "aws-documentation.epub"},
		{"", "aws-documentation.epub"},
		{"line\nbreak", "linebreak.epub"},
	}
	for _, tt := range tests {
		if got := FileName(tt.title); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
