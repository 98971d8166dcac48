package v1

import (
	"embed"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
)

//go:embed templates/opds.xml
var templatesFS embed.FS

var opdsTemplate = template.Must(template.New("opds.xml").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).ParseFS(templatesFS, "templates/opds.xml"))

// OpdsTemplateData holds data for the OPDS XML template.
type OpdsTemplateData struct {
	Books       []*OpdsBook
	BaseURL     string
	CurrentTime string
}

// OpdsBook is a simplified book structure for the template.
type OpdsBook struct {
	ID       string
	Title    string
	Updated  time.Time
	Chapters int
	HasCover bool
}

// opdsFeed lists every book as an acquisition feed of EPUB exports.
func (h *Handler) opdsFeed(w http.ResponseWriter, r *http.Request) {
	books := h.library.Books()
	opdsBooks := make([]*OpdsBook, 0, len(books))
	for _, book := range books {
		opdsBooks = append(opdsBooks, &OpdsBook{
			ID:       template.HTMLEscapeString(book.ID),
			Title:    template.HTMLEscapeString(book.Title),
			Updated:  book.CreatedAt,
			Chapters: len(book.Chapters),
			HasCover: book.IsPDF(),
		})
	}

	data := OpdsTemplateData{
		Books:       opdsBooks,
		BaseURL:     template.HTMLEscapeString(getBaseURL(r)),
		CurrentTime: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/atom+xml;charset=utf-8;profile=opds-catalog;kind=acquisition")
	fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n")
	if err := opdsTemplate.Execute(w, data); err != nil {
		log.Error("error executing OPDS template", zap.Error(err))
		// Can't send another http error response here as headers are already written
	}
}

// getBaseURL determines the base URL for generating links.
func getBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}
