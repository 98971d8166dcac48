package v1

import (
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/http/response"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/resolver"
	"github.com/Xunop/celestial/internal/util"
)

const (
	coverWidth = 240
	epubMIME   = "application/epub+zip"
)

func (h *Handler) pdfBook(w http.ResponseWriter, r *http.Request) (*model.Book, bool) {
	book, ok := h.library.Book(request.RouteStringParam(r, "id"))
	if !ok {
		response.NotFound(w, r)
		return nil, false
	}
	if !book.IsPDF() {
		response.Error(w, r, errors.Wrapf(model.ErrInvalidInput, "book %s has no pages", book.ID))
		return nil, false
	}
	return book, true
}

func (h *Handler) resolvePage(r *http.Request, book *model.Book, page, width int) (*model.PageImage, error) {
	live, _ := h.library.Source(book.ID)
	return h.pages.Resolve(r.Context(), resolver.Request{Book: book, Page: page, Width: width, Live: live})
}

func (h *Handler) getPage(w http.ResponseWriter, r *http.Request) {
	book, ok := h.pdfBook(w, r)
	if !ok {
		return
	}
	page := request.RouteIntParam(r, "page")
	img, err := h.resolvePage(r, book, page, request.QueryIntParam(r, "width", 0))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Binary(w, r, img.MIME, img.Data)
}

// getCover serves page 1 as a WebP thumbnail. Vector pages are served as they are.
func (h *Handler) getCover(w http.ResponseWriter, r *http.Request) {
	book, ok := h.pdfBook(w, r)
	if !ok {
		return
	}
	img, err := h.resolvePage(r, book, 1, 0)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if img.MIME != model.MIMEPNG {
		response.Binary(w, r, img.MIME, img.Data)
		return
	}
	thumb, err := util.Thumbnail(img.Data, coverWidth)
	if err != nil {
		log.Warn("Failed to build cover thumbnail", zap.String("book_id", book.ID), zap.Error(err))
		response.Binary(w, r, img.MIME, img.Data)
		return
	}
	response.Binary(w, r, "image/webp", thumb)
}

func (h *Handler) exportEPUB(w http.ResponseWriter, r *http.Request) {
	book, ok := h.library.Book(request.RouteStringParam(r, "id"))
	if !ok {
		response.NotFound(w, r)
		return
	}
	data, err := h.exporter.EPUB(r.Context(), book)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Attachment(w, r, epubMIME, book.ID+".epub", data)
}
