package validator // import "github.com/Xunop/celestial/internal/validator"

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/Xunop/celestial/internal/library"
	"github.com/Xunop/celestial/internal/model"
)

const (
	MaxTitleLength   = 200
	MaxChapterLength = 64 << 10
)

var pdfMagic = []byte("%PDF-")

func ValidateTextBookRequest(title string, chapters []library.TextChapterInput) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if len(chapters) == 0 {
		return errors.Wrap(model.ErrInvalidInput, "at least one chapter is required")
	}
	for i, c := range chapters {
		if utf8.RuneCountInString(c.Title) > MaxTitleLength {
			return errors.Wrapf(model.ErrInvalidInput, "chapter %d title is too long", i+1)
		}
		if len(c.Text) > MaxChapterLength {
			return errors.Wrapf(model.ErrInvalidInput, "chapter %d text is too long", i+1)
		}
	}
	return nil
}

// ValidatePDFUpload only looks at the header; the loader decides whether the
// rest of the file is readable.
func ValidatePDFUpload(title string, data []byte) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.Wrap(model.ErrInvalidInput, "file is empty")
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return errors.Wrap(model.ErrInvalidInput, "file is not a PDF")
	}
	return nil
}

func ValidateSignInRequest(password string) error {
	if password == "" {
		return errors.Wrap(model.ErrInvalidInput, "password is empty")
	}
	return nil
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.Wrap(model.ErrInvalidInput, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return errors.Wrap(model.ErrInvalidInput, "title is too long")
	}
	return nil
}
