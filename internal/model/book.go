package model // import "github.com/Xunop/celestial/internal/model"

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type BookKind string

const (
	BookKindText BookKind = "text"
	BookKindPDF  BookKind = "pdf"
)

// Chapter is either a *TextChapter or a *PDFChapter.
type Chapter interface {
	ChapterID() string
	ChapterTitle() string
	IsUnlocked() bool
	Unlock()
	// EmbeddedCollage is the collage shipped with the chapter itself, used when the
	// collage store has nothing for it.
	EmbeddedCollage() *Collage
	clone() Chapter
}

type TextChapter struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Unlocked bool     `json:"unlocked"`
	Text     string   `json:"text"`
	Collage  *Collage `json:"collage,omitempty"`
}

func (c *TextChapter) ChapterID() string         { return c.ID }
func (c *TextChapter) ChapterTitle() string      { return c.Title }
func (c *TextChapter) IsUnlocked() bool          { return c.Unlocked }
func (c *TextChapter) Unlock()                   { c.Unlocked = true }
func (c *TextChapter) EmbeddedCollage() *Collage { return c.Collage }

func (c *TextChapter) clone() Chapter {
	cp := *c
	cp.Collage = c.Collage.Clone()
	return &cp
}

type PDFChapter struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Unlocked bool   `json:"unlocked"`
	// PageNumber is 1-based
	PageNumber int      `json:"page_number"`
	Collage    *Collage `json:"collage,omitempty"`
}

func (c *PDFChapter) ChapterID() string         { return c.ID }
func (c *PDFChapter) ChapterTitle() string      { return c.Title }
func (c *PDFChapter) IsUnlocked() bool          { return c.Unlocked }
func (c *PDFChapter) Unlock()                   { c.Unlocked = true }
func (c *PDFChapter) EmbeddedCollage() *Collage { return c.Collage }

func (c *PDFChapter) clone() Chapter {
	cp := *c
	cp.Collage = c.Collage.Clone()
	return &cp
}

// PDFChapterID derives the stable id of the chapter showing page n of a PDF book.
func PDFChapterID(bookID string, n int) string {
	return fmt.Sprintf("%s-chapter-%d", bookID, n)
}

type Book struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Kind  BookKind `json:"type"`
	// TotalPages is only set for PDF books
	TotalPages int `json:"total_pages,omitempty"`
	// Dynamic books were uploaded at runtime and have no pre-packaged page assets.
	Dynamic bool `json:"dynamic,omitempty"`
	// Static books come from the manifest and are never persisted.
	Static    bool      `json:"static,omitempty"`
	PDFPath   string    `json:"pdf_path,omitempty"`
	Chapters  []Chapter `json:"chapters"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Book) IsPDF() bool {
	return b.Kind == BookKindPDF
}

// Chapter returns the chapter with the given id.
func (b *Book) Chapter(id string) (Chapter, bool) {
	for _, c := range b.Chapters {
		if c.ChapterID() == id {
			return c, true
		}
	}
	return nil, false
}

// Clone returns a deep copy, chapters and embedded collages included.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Chapters = make([]Chapter, len(b.Chapters))
	for i, c := range b.Chapters {
		cp.Chapters[i] = c.clone()
	}
	return &cp
}

// Validate checks the chapter invariants of the book.
func (b *Book) Validate() error {
	if b.ID == "" {
		return errors.Wrap(ErrInvalidInput, "book id is required")
	}
	seen := make(map[string]bool, len(b.Chapters))
	for _, c := range b.Chapters {
		if seen[c.ChapterID()] {
			return errors.Wrapf(ErrInvalidInput, "duplicate chapter id %s", c.ChapterID())
		}
		seen[c.ChapterID()] = true

		switch ch := c.(type) {
		case *PDFChapter:
			if b.Kind != BookKindPDF {
				return errors.Wrapf(ErrInvalidInput, "pdf chapter %s in a %s book", ch.ID, b.Kind)
			}
			if ch.PageNumber < 1 || ch.PageNumber > b.TotalPages {
				return errors.Wrapf(ErrInvalidInput, "chapter %s points at page %d of %d", ch.ID, ch.PageNumber, b.TotalPages)
			}
		case *TextChapter:
			if b.Kind != BookKindText {
				return errors.Wrapf(ErrInvalidInput, "text chapter %s in a %s book", ch.ID, b.Kind)
			}
		}
	}
	return nil
}

type bookAlias Book

type bookJSON struct {
	*bookAlias
	Chapters json.RawMessage `json:"chapters"`
}

func (b *Book) UnmarshalJSON(data []byte) error {
	aux := bookJSON{bookAlias: (*bookAlias)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Chapters = nil
	if len(aux.Chapters) == 0 || string(aux.Chapters) == "null" {
		return nil
	}

	switch b.Kind {
	case BookKindPDF:
		var chapters []*PDFChapter
		if err := json.Unmarshal(aux.Chapters, &chapters); err != nil {
			return errors.Wrapf(err, "decode chapters of book %s", b.ID)
		}
		for _, c := range chapters {
			b.Chapters = append(b.Chapters, c)
		}
	case BookKindText:
		var chapters []*TextChapter
		if err := json.Unmarshal(aux.Chapters, &chapters); err != nil {
			return errors.Wrapf(err, "decode chapters of book %s", b.ID)
		}
		for _, c := range chapters {
			b.Chapters = append(b.Chapters, c)
		}
	default:
		return errors.Errorf("unknown book type %q", b.Kind)
	}
	return nil
}

// ManifestEntry describes one pre-packaged PDF book.
type ManifestEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
}

// CollageEvent is broadcast every time a collage is saved.
type CollageEvent struct {
	BookID    string `json:"book_id"`
	ChapterID string `json:"chapter_id"`
}
