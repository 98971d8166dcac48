package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrPageOutOfRange = errors.New("page out of range")
	ErrRenderFailure  = errors.New("render failure")
	// ErrStorageWrite is only ever logged: cache writes are best-effort.
	ErrStorageWrite  = errors.New("storage write failure")
	ErrAuthorization = errors.New("authorization failure")
	ErrStaticBook    = errors.New("pre-packaged books cannot be modified")
)

// PageOutOfRangeError names the page count of the document that rejected the request.
type PageOutOfRangeError struct {
	Page     int
	NumPages int
}

func (e *PageOutOfRangeError) Error() string {
	return fmt.Sprintf("page %d out of range: document has %d pages", e.Page, e.NumPages)
}

func (e *PageOutOfRangeError) Is(target error) bool {
	return target == ErrPageOutOfRange
}

// RenderError is returned once every render attempt for a page failed.
type RenderError struct {
	Page  int
	Cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("unable to render page %d: %v", e.Page, e.Cause)
}

func (e *RenderError) Is(target error) bool {
	return target == ErrRenderFailure
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// NotFoundError means no cached, live, remote or static source exists for a page.
type NotFoundError struct {
	BookID string
	Page   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("page %d of book %s not found", e.Page, e.BookID)
}

func (e *NotFoundError) Hint() string {
	return "upload the book's PDF file to render this page"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
