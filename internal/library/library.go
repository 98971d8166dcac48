package library // import "github.com/Xunop/celestial/internal/library"

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/storage"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/util"
)

const RegistryKey = "celestial-books"

// registry is the persisted part of the library. Static books are rebuilt from
// the manifest on every start, only their unlock state is kept here.
type registry struct {
	TextBooks       []*model.Book       `json:"text_books"`
	DynamicPDFBooks []*model.Book       `json:"dynamic_pdf_books"`
	StaticUnlocked  map[string][]string `json:"static_unlocked,omitempty"`
}

// Forgetter drops per-book state held outside the library.
type Forgetter interface {
	Forget(bookID string)
}

type TextChapterInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Library is the registry of books and their chapters.
type Library struct {
	store     *store.Store
	collages  *collage.Store
	storage   *storage.Selector
	forgetter Forgetter
	staticDir string

	mu             sync.RWMutex
	books          map[string]*model.Book
	static         map[string]*model.Book
	lastStatic     map[string]bool
	staticUnlocked map[string][]string
	sources        map[string][]byte
	activeBook     string
	activeChapter  string
}

func New(s *store.Store, collages *collage.Store, sel *storage.Selector, forgetter Forgetter, staticDir string) *Library {
	l := &Library{
		store:          s,
		collages:       collages,
		storage:        sel,
		forgetter:      forgetter,
		staticDir:      staticDir,
		books:          map[string]*model.Book{},
		static:         map[string]*model.Book{},
		lastStatic:     map[string]bool{},
		staticUnlocked: map[string][]string{},
		sources:        map[string][]byte{},
	}
	if collages != nil {
		collages.SetOwner(l.Has)
	}
	return l
}

func seedBooks() []*model.Book {
	return []*model.Book{{
		ID:    "text-book-1",
		Title: "Histórias de Texto",
		Kind:  model.BookKindText,
		Chapters: []model.Chapter{
			&model.TextChapter{ID: "c1", Title: "Capítulo 1", Unlocked: true,
				Text: "Era uma vez, em um céu de algodão, um foguete curioso..."},
			&model.TextChapter{ID: "c2", Title: "Capítulo 2",
				Text: "A lua piscou para as estrelas e contou um segredo."},
		},
	}}
}

// Load reads the registry, seeding it on first start, and the static manifest.
func (l *Library) Load(ctx context.Context) error {
	var reg registry
	ok, err := l.store.GetJSON(ctx, RegistryKey, &reg)
	if err != nil {
		// A corrupt registry must not keep the server from starting.
		log.Error("Unreadable book registry, starting from the seed", zap.Error(err))
		ok = false
	}
	if !ok || (len(reg.TextBooks) == 0 && len(reg.DynamicPDFBooks) == 0) {
		reg = registry{TextBooks: seedBooks(), StaticUnlocked: reg.StaticUnlocked}
	}

	l.mu.Lock()
	l.books = map[string]*model.Book{}
	for _, b := range append(reg.TextBooks, reg.DynamicPDFBooks...) {
		if err := b.Validate(); err != nil {
			log.Warn("Skipping invalid book", zap.String("book_id", b.ID), zap.Error(err))
			continue
		}
		l.books[b.ID] = b
	}
	if reg.StaticUnlocked != nil {
		l.staticUnlocked = reg.StaticUnlocked
	}
	err = l.persistLocked(ctx)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	return l.ReloadManifest()
}

// Books returns PDF books then text books, each group sorted by id.
func (l *Library) Books() []*model.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var pdfs, texts []*model.Book
	for _, b := range l.all() {
		if b.IsPDF() {
			pdfs = append(pdfs, b.Clone())
		} else {
			texts = append(texts, b.Clone())
		}
	}
	byID := func(s []*model.Book) {
		sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
	}
	byID(pdfs)
	byID(texts)
	return append(pdfs, texts...)
}

// Has reports whether id names a stored or static book.
func (l *Library) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.lookup(id)
	return ok
}

func (l *Library) Book(id string) (*model.Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.lookup(id)
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

func (l *Library) CreateTextBook(ctx context.Context, title string, chapters []TextChapterInput) (*model.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Wrap(model.ErrInvalidInput, "title is required")
	}
	book := &model.Book{
		ID:        util.ShortID("book"),
		Title:     title,
		Kind:      model.BookKindText,
		CreatedAt: time.Now().UTC(),
	}
	for i, c := range chapters {
		book.Chapters = append(book.Chapters, &model.TextChapter{
			ID:       fmt.Sprintf("c%d", i+1),
			Title:    c.Title,
			Text:     c.Text,
			Unlocked: i == 0,
		})
	}
	if err := l.add(ctx, book); err != nil {
		return nil, err
	}
	log.Info("Created text book", zap.String("book_id", book.ID), zap.Int("chapters", len(chapters)))
	return book.Clone(), nil
}

// CreatePDFBook registers an uploaded PDF. Chapter n shows page n and is titled
// titles[n-1], or "Pagina n" when no title is given. The source, if any, is kept
// in memory and copied to the remote backend when one is selected.
func (l *Library) CreatePDFBook(ctx context.Context, title string, totalPages int, titles []string, source []byte) (*model.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Wrap(model.ErrInvalidInput, "title is required")
	}
	if totalPages < 1 {
		return nil, errors.Wrap(model.ErrInvalidInput, "a pdf book needs at least one page")
	}
	book := &model.Book{
		ID:         util.ShortID("pdf"),
		Title:      title,
		Kind:       model.BookKindPDF,
		TotalPages: totalPages,
		Dynamic:    true,
		CreatedAt:  time.Now().UTC(),
	}
	book.PDFPath = fmt.Sprintf("books/%s.pdf", book.ID)
	for n := 1; n <= totalPages; n++ {
		chapterTitle := ""
		if n-1 < len(titles) {
			chapterTitle = strings.TrimSpace(titles[n-1])
		}
		if chapterTitle == "" {
			chapterTitle = fmt.Sprintf("Pagina %d", n)
		}
		book.Chapters = append(book.Chapters, &model.PDFChapter{
			ID:         model.PDFChapterID(book.ID, n),
			Title:      chapterTitle,
			PageNumber: n,
			Unlocked:   n == 1,
		})
	}
	if err := l.add(ctx, book); err != nil {
		return nil, err
	}

	if source != nil {
		l.mu.Lock()
		l.sources[book.ID] = source
		l.mu.Unlock()
		if src := l.storage.Source(); src != nil {
			if err := src.PutSource(ctx, book.ID, source); err != nil {
				log.Warn("Failed to upload source document", zap.String("book_id", book.ID), zap.Error(err))
			}
		}
	}
	log.Info("Created pdf book", zap.String("book_id", book.ID), zap.Int("pages", totalPages))
	return book.Clone(), nil
}

func (l *Library) add(ctx context.Context, book *model.Book) error {
	if err := book.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.books[book.ID] = book
	if err := l.persistLocked(ctx); err != nil {
		delete(l.books, book.ID)
		return err
	}
	l.activeBook, l.activeChapter = book.ID, ""
	return nil
}

// DeleteBook removes a book and everything derived from it: the in-memory
// source, the collages, the page cache of the selected and of the local
// backend, and documents cached by the forgetter. Every step runs even when
// an earlier one fails; the first failure is returned.
func (l *Library) DeleteBook(ctx context.Context, id string) error {
	l.mu.Lock()
	if _, ok := l.static[id]; ok {
		l.mu.Unlock()
		return errors.Wrapf(model.ErrStaticBook, "book %s", id)
	}
	book, ok := l.books[id]
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(model.ErrNotFound, "book %s", id)
	}
	delete(l.books, id)
	if err := l.persistLocked(ctx); err != nil {
		l.books[id] = book
		l.mu.Unlock()
		return err
	}
	delete(l.sources, id)
	if l.activeBook == id {
		l.activeBook, l.activeChapter = "", ""
	}
	l.mu.Unlock()

	// Pending cache writes are dropped before the purge so none lands after it.
	if l.forgetter != nil {
		l.forgetter.Forget(id)
	}

	var first error
	fail := func(step string, err error) {
		log.Error("Book cascade step failed", zap.String("book_id", id), zap.String("step", step), zap.Error(err))
		if first == nil {
			first = errors.Wrap(err, step)
		}
	}

	if n, err := l.collages.RemoveAllForBook(ctx, id); err != nil {
		fail("collages", err)
	} else {
		log.Debug("Removed collages", zap.String("book_id", id), zap.Int("count", n))
	}
	selected := l.storage.Select()
	if err := selected.RemoveBook(ctx, id); err != nil {
		fail("page cache", err)
	}
	if selected.Name() != l.storage.Local().Name() {
		if err := l.storage.Local().RemoveBook(ctx, id); err != nil {
			fail("local page cache", err)
		}
	}
	log.Info("Deleted book", zap.String("book_id", id))
	return first
}

// Source returns the in-memory original of a book.
func (l *Library) Source(id string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src, ok := l.sources[id]
	return src, ok
}

func (l *Library) UnlockChapter(ctx context.Context, bookID, chapterID string) (*model.Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	book, ok := l.lookup(bookID)
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "book %s", bookID)
	}
	chapter, ok := book.Chapter(chapterID)
	if !ok {
		return nil, errors.Wrapf(model.ErrNotFound, "chapter %s of book %s", chapterID, bookID)
	}
	if chapter.IsUnlocked() {
		return book.Clone(), nil
	}
	chapter.Unlock()
	if book.Static {
		l.staticUnlocked[bookID] = append(l.staticUnlocked[bookID], chapterID)
	}
	if err := l.persistLocked(ctx); err != nil {
		return nil, err
	}
	return book.Clone(), nil
}

// SetActive selects the book, and optionally the chapter, being read.
func (l *Library) SetActive(bookID, chapterID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	book, ok := l.lookup(bookID)
	if !ok {
		return errors.Wrapf(model.ErrNotFound, "book %s", bookID)
	}
	if chapterID != "" {
		if _, ok := book.Chapter(chapterID); !ok {
			return errors.Wrapf(model.ErrNotFound, "chapter %s of book %s", chapterID, bookID)
		}
	}
	l.activeBook, l.activeChapter = bookID, chapterID
	return nil
}

// Active returns the active book and chapter. Without a valid selection the
// first listed book and its first chapter are active.
func (l *Library) Active() (*model.Book, model.Chapter, bool) {
	l.mu.RLock()
	bookID, chapterID := l.activeBook, l.activeChapter
	l.mu.RUnlock()

	book, ok := l.Book(bookID)
	if !ok {
		books := l.Books()
		if len(books) == 0 {
			return nil, nil, false
		}
		book, chapterID = books[0], ""
	}
	if chapter, ok := book.Chapter(chapterID); ok {
		return book, chapter, true
	}
	if len(book.Chapters) > 0 {
		return book, book.Chapters[0], true
	}
	return book, nil, true
}

func (l *Library) lookup(id string) (*model.Book, bool) {
	if b, ok := l.static[id]; ok {
		return b, true
	}
	b, ok := l.books[id]
	return b, ok
}

func (l *Library) all() []*model.Book {
	out := make([]*model.Book, 0, len(l.books)+len(l.static))
	for _, b := range l.static {
		out = append(out, b)
	}
	for _, b := range l.books {
		out = append(out, b)
	}
	return out
}

func (l *Library) persistLocked(ctx context.Context) error {
	reg := registry{
		TextBooks:       []*model.Book{},
		DynamicPDFBooks: []*model.Book{},
		StaticUnlocked:  l.staticUnlocked,
	}
	for _, b := range l.books {
		if b.IsPDF() {
			reg.DynamicPDFBooks = append(reg.DynamicPDFBooks, b)
		} else {
			reg.TextBooks = append(reg.TextBooks, b)
		}
	}
	sort.Slice(reg.TextBooks, func(i, j int) bool { return reg.TextBooks[i].ID < reg.TextBooks[j].ID })
	sort.Slice(reg.DynamicPDFBooks, func(i, j int) bool { return reg.DynamicPDFBooks[i].ID < reg.DynamicPDFBooks[j].ID })
	if err := l.store.SetJSON(ctx, RegistryKey, reg); err != nil {
		return errors.Wrap(err, "failed to persist book registry")
	}
	return nil
}
