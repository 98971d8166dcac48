package storage // import "github.com/Xunop/celestial/internal/storage"

import (
	"context"
	"fmt"

	"github.com/Xunop/celestial/internal/model"
)

// PageStorage caches rendered pages per (book, page).
type PageStorage interface {
	GetPage(ctx context.Context, bookID string, page int) (*model.PageImage, bool, error)
	SetPage(ctx context.Context, bookID string, page int, img *model.PageImage) error
	RemoveBook(ctx context.Context, bookID string) error
	Name() string
}

// SourceStore keeps the original uploaded document of a book.
type SourceStore interface {
	PutSource(ctx context.Context, bookID string, data []byte) error
	GetSource(ctx context.Context, bookID string) ([]byte, bool, error)
}

const (
	PreviewPrefix  = "pdf-previews/"
	SourceFileName = "source.pdf"
)

func PageFileName(page int) string {
	return fmt.Sprintf("page-%d.png", page)
}

func pageKey(bookID string, page int) string {
	return fmt.Sprintf("%s%s::%d", PreviewPrefix, bookID, page)
}

func bookKeyPrefix(bookID string) string {
	return PreviewPrefix + bookID + "::"
}
