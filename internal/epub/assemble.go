package epub

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/epubify/internal/crawl"
)

// ErrEmptyBook is returned when every page was skipped.
var ErrEmptyBook = errors.New("no pages could be converted")

// Assemble builds a Book from fetch outcomes in the order given. Skipped
// outcomes are dropped and the remaining fragments become chapter0,
// chapter1, ... with no gaps.
func Assemble(title string, outcomes []crawl.Outcome, now time.Time) (Book, error) {
	book := Book{
		ID:        Identifier(now),
		Title:     title,
		Creator:   DefaultCreator,
		Language:  "en",
		CreatedAt: now,
	}

	for _, out := range outcomes {
		if out.Skipped() {
			continue
		}
		book.Chapters = append(book.Chapters, Chapter{
			ID:        fmt.Sprintf("chapter%d", len(book.Chapters)),
			Title:     out.Fragment.Title,
			Content:   out.Fragment.Content,
			SourceURL: out.Fragment.SourceURL,
		})
	}

	if len(book.Chapters) == 0 {
		return Book{}, ErrEmptyBook
	}
	return book, nil
}

// Identifier returns the publication identifier for a book built at t.
// Microseconds keep identifiers distinct for builds within the same second.
func Identifier(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("epubify-%s-%06d", u.Format("20060102150405"), u.Nanosecond()/1000)
}
