package v1

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/http/response"
	"github.com/Xunop/celestial/internal/library"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/validator"
)

type createTextBookRequest struct {
	Title    string                     `json:"title"`
	Chapters []library.TextChapterInput `json:"chapters"`
}

type setActiveRequest struct {
	ChapterID string `json:"chapter_id"`
}

type activeResponse struct {
	Book    *model.Book   `json:"book"`
	Chapter model.Chapter `json:"chapter,omitempty"`
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, h.library.Books())
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.library.Book(request.RouteStringParam(r, "id"))
	if !ok {
		response.NotFound(w, r)
		return
	}
	response.OK(w, r, book)
}

func (h *Handler) createTextBook(w http.ResponseWriter, r *http.Request) {
	var req createTextBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("Failed to decode request body", zap.Error(err))
		response.BadRequest(w, r, err)
		return
	}
	if err := validator.ValidateTextBookRequest(req.Title, req.Chapters); err != nil {
		response.Error(w, r, err)
		return
	}

	book, err := h.library.CreateTextBook(r.Context(), req.Title, req.Chapters)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, book)
}

// createPDFBook takes a multipart upload: the PDF in "file", the title in
// "title" and optional per-page titles in "chapter_titles".
func (h *Handler) createPDFBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadSize << 20); err != nil {
		log.Error("Max upload size exceeded", zap.Error(err))
		response.BadRequest(w, r, err)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		response.BadRequest(w, r, errors.New("exactly one file is required"))
		return
	}
	f, err := files[0].Open()
	if err != nil {
		response.ServerError(w, r, err)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		response.ServerError(w, r, err)
		return
	}

	if err := validator.ValidatePDFUpload(r.FormValue("title"), data); err != nil {
		log.Warn("Rejected PDF upload", zap.String("filename", files[0].Filename), zap.Error(err))
		response.Error(w, r, err)
		return
	}

	doc, err := h.loader.Load(r.Context(), data)
	if err != nil {
		log.Warn("Rejected PDF upload", zap.String("filename", files[0].Filename), zap.Error(err))
		response.BadRequest(w, r, errors.Wrap(model.ErrInvalidInput, "file is not a readable PDF"))
		return
	}

	titles := r.MultipartForm.Value["chapter_titles"]
	if len(titles) == 0 {
		titles = r.MultipartForm.Value["chapter_titles[]"]
	}
	book, err := h.library.CreatePDFBook(r.Context(), r.FormValue("title"), doc.NumPages, titles, data)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	log.Info("Created PDF book",
		zap.String("book_id", book.ID), zap.Int("pages", book.TotalPages), zap.Int("bytes", len(data)))
	response.Created(w, r, book)
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.library.DeleteBook(r.Context(), request.RouteStringParam(r, "id")); err != nil {
		response.Error(w, r, err)
		return
	}
	response.NoContent(w, r)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			response.BadRequest(w, r, err)
			return
		}
	}
	if err := h.library.SetActive(request.RouteStringParam(r, "id"), req.ChapterID); err != nil {
		response.Error(w, r, err)
		return
	}
	h.getActive(w, r)
}

func (h *Handler) getActive(w http.ResponseWriter, r *http.Request) {
	book, chapter, ok := h.library.Active()
	if !ok {
		response.NotFound(w, r)
		return
	}
	response.OK(w, r, activeResponse{Book: book, Chapter: chapter})
}

func (h *Handler) unlockChapter(w http.ResponseWriter, r *http.Request) {
	book, err := h.library.UnlockChapter(r.Context(), request.RouteStringParam(r, "id"), request.RouteStringParam(r, "chapterID"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, book)
}

// bookAndChapter looks up the route's book and chapter, answering 404 itself.
func (h *Handler) bookAndChapter(w http.ResponseWriter, r *http.Request) (*model.Book, model.Chapter, bool) {
	book, ok := h.library.Book(request.RouteStringParam(r, "id"))
	if !ok {
		response.NotFound(w, r)
		return nil, nil, false
	}
	chapter, ok := book.Chapter(request.RouteStringParam(r, "chapterID"))
	if !ok {
		response.NotFound(w, r)
		return nil, nil, false
	}
	return book, chapter, true
}
