package export // import "github.com/Xunop/celestial/internal/export"

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	epub "github.com/go-shiori/go-epub"
	"github.com/pkg/errors"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/resolver"
)

const (
	language = "pt-BR"
	author   = "Celestial"

	stylesheet = `body { margin: 0; font-family: serif; }
.page { position: relative; width: 100%; }
.page img.background { display: block; width: 100%; }
.text { padding: 1em; line-height: 1.5; }
.sticker { position: absolute; transform: translate(-50%, -50%); font-size: 2em; line-height: 1; }
.sticker img { width: 2em; height: 2em; }
.missing { padding: 1em; font-style: italic; }
`
)

type PageResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*model.PageImage, error)
}

type CollageReader interface {
	Get(ctx context.Context, bookID, chapterID string) (*model.Collage, bool, error)
}

type SourceLookup func(bookID string) ([]byte, bool)

type Exporter struct {
	pages    PageResolver
	collages CollageReader
	sources  SourceLookup
}

func New(pages PageResolver, collages CollageReader, sources SourceLookup) *Exporter {
	if sources == nil {
		sources = func(string) ([]byte, bool) { return nil, false }
	}
	return &Exporter{pages: pages, collages: collages, sources: sources}
}

// EPUB renders a book with one section per chapter and its stickers laid over it.
func (x *Exporter) EPUB(ctx context.Context, book *model.Book) ([]byte, error) {
	if book == nil {
		return nil, errors.Wrap(model.ErrInvalidInput, "book is required")
	}
	title := book.Title
	if title == "" {
		title = book.ID
	}
	e, err := epub.NewEpub(title)
	if err != nil {
		return nil, errors.Wrap(err, "create epub")
	}
	e.SetAuthor(author)
	e.SetLang(language)
	e.SetIdentifier("urn:celestial:" + book.ID)

	css, err := e.AddCSS(dataurl.New([]byte(stylesheet), "text/css").String(), "celestial.css")
	if err != nil {
		return nil, errors.Wrap(err, "add stylesheet")
	}

	for i, chapter := range book.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := x.section(ctx, e, book, chapter)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("chapter-%03d.xhtml", i+1)
		if _, err := e.AddSection(body, chapter.ChapterTitle(), name, css); err != nil {
			return nil, errors.Wrapf(err, "add chapter %s", chapter.ChapterID())
		}
	}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "write epub")
	}
	return buf.Bytes(), nil
}

func (x *Exporter) section(ctx context.Context, e *epub.Epub, book *model.Book, chapter model.Chapter) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(chapter.ChapterTitle()))
	sb.WriteString(`<div class="page">` + "\n")

	switch c := chapter.(type) {
	case *model.PDFChapter:
		live, _ := x.sources(book.ID)
		img, err := x.pages.Resolve(ctx, resolver.Request{Book: book, Page: c.PageNumber, Live: live})
		if err != nil {
			log.Warn("Exporting chapter without its page",
				zap.String("book_id", book.ID), zap.Int("page", c.PageNumber), zap.Error(err))
			fmt.Fprintf(&sb, `<p class="missing">%s</p>`+"\n", html.EscapeString(missingPage(err)))
			break
		}
		src, err := e.AddImage(img.DataURL(), fmt.Sprintf("page-%d%s", c.PageNumber, extension(img.MIME)))
		if err != nil {
			return "", errors.Wrapf(err, "add page %d", c.PageNumber)
		}
		fmt.Fprintf(&sb, `<img class="background" src="%s" alt="%s"/>`+"\n", src, html.EscapeString(chapter.ChapterTitle()))
	case *model.TextChapter:
		sb.WriteString(`<div class="text">` + "\n")
		for _, p := range paragraphs(c.Text) {
			fmt.Fprintf(&sb, "<p>%s</p>\n", html.EscapeString(p))
		}
		sb.WriteString("</div>\n")
	}

	collage := x.collage(ctx, book.ID, chapter)
	if collage != nil {
		for _, item := range collage.Items {
			sticker, err := stickerMarkup(e, item)
			if err != nil {
				return "", err
			}
			sb.WriteString(sticker)
		}
	}
	sb.WriteString("</div>\n")
	return sb.String(), nil
}

func (x *Exporter) collage(ctx context.Context, bookID string, chapter model.Chapter) *model.Collage {
	c, ok, err := x.collages.Get(ctx, bookID, chapter.ChapterID())
	if err != nil {
		log.Warn("Failed to read collage for export",
			zap.String("book_id", bookID), zap.String("chapter_id", chapter.ChapterID()), zap.Error(err))
	}
	if ok {
		return c
	}
	return chapter.EmbeddedCollage()
}

func stickerMarkup(e *epub.Epub, item model.StickerItem) (string, error) {
	style := fmt.Sprintf("left: %.2f%%; top: %.2f%%;", item.X*100, item.Y*100)
	if (item.Scale > 0 && item.Scale != 1) || item.Rotation != 0 {
		style = fmt.Sprintf("%s transform: translate(-50%%, -50%%) scale(%g) rotate(%gdeg);", style, item.Scale, item.Rotation)
	}
	if !item.IsImage() {
		return fmt.Sprintf(`<span class="sticker" style="%s">%s</span>`+"\n", style, html.EscapeString(item.Emoji)), nil
	}
	src, err := e.AddImage(item.Emoji, "")
	if err != nil {
		return "", errors.Wrapf(err, "add sticker %s", item.ID)
	}
	return fmt.Sprintf(`<span class="sticker" style="%s"><img src="%s" alt=""/></span>`+"\n", style, src), nil
}

func missingPage(err error) string {
	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		return nf.Hint()
	}
	return "Pagina indisponivel."
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extension(mime string) string {
	switch mime {
	case model.MIMESVG:
		return ".svg"
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".png"
	}
}
