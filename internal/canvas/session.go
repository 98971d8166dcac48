package canvas // import "github.com/Xunop/celestial/internal/canvas"

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/resolver"
	"github.com/Xunop/celestial/internal/util"
)

const (
	DefaultAutosaveDelay = 600 * time.Millisecond
	DefaultLongPress     = 800 * time.Millisecond

	deletePrompt = "Deletar este sticker?"
)

// Point is a pointer position in the same pixel frame as the canvas bounds.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the canvas bounding box in pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Confirmer asks the user a yes/no question. It may block until answered.
type Confirmer interface {
	Confirm(prompt string) bool
}

type PageResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*model.PageImage, error)
}

// SourceLookup returns the in-memory original of a book, if any.
type SourceLookup func(bookID string) ([]byte, bool)

type Options struct {
	AutosaveDelay time.Duration
	LongPress     time.Duration
	Confirmer     Confirmer
	// OnSaving reports autosave transitions: true when a save is armed, false once written.
	OnSaving func(saving bool)
	// OnChange is called after every change of the items or the selection.
	OnChange func()
	// OnError receives failed autosaves.
	OnError func(err error)
}

// Session owns the sticker editing state of one chapter at a time.
type Session struct {
	collages *collage.Store
	pages    PageResolver
	sources  SourceLookup
	opts     Options

	mu       sync.Mutex
	book     *model.Book
	chapter  model.Chapter
	items    []model.StickerItem
	selected string
	dragging string
	bounds   Rect
	closed   bool

	// epoch changes on every Open and Close; timers armed under an older epoch are void.
	epoch     uint64
	debounced func(func())
	pending   bool
	pressSeq  uint64
	pressTime *time.Timer
}

func NewSession(collages *collage.Store, pages PageResolver, sources SourceLookup, opts Options) *Session {
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}
	if opts.LongPress <= 0 {
		opts.LongPress = DefaultLongPress
	}
	if sources == nil {
		sources = func(string) ([]byte, bool) { return nil, false }
	}
	return &Session{collages: collages, pages: pages, sources: sources, opts: opts}
}

// Open switches the session to a chapter. A pending autosave of the previous
// chapter is dropped. Loading the chapter's collage never triggers a save.
func (s *Session) Open(ctx context.Context, book *model.Book, chapterID string) error {
	if book == nil {
		return errors.Wrap(model.ErrInvalidInput, "book is required")
	}
	chapter, ok := book.Chapter(chapterID)
	if !ok {
		return errors.Wrapf(model.ErrNotFound, "chapter %s of book %s", chapterID, book.ID)
	}

	var items []model.StickerItem
	stored, ok, err := s.collages.Get(ctx, book.ID, chapterID)
	if err != nil {
		log.Warn("Failed to load collage, using the embedded one",
			zap.String("book_id", book.ID), zap.String("chapter_id", chapterID), zap.Error(err))
	}
	switch {
	case ok:
		items = stored.Items
	case chapter.EmbeddedCollage() != nil:
		items = chapter.EmbeddedCollage().Items
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("canvas session is closed")
	}
	s.epoch++
	wasPending := s.pending
	s.pending = false
	s.cancelLongPressLocked()
	s.debounced = debounce.New(s.opts.AutosaveDelay)
	s.book = book
	s.chapter = chapter
	s.items = append([]model.StickerItem(nil), items...)
	s.selected, s.dragging = "", ""
	s.mu.Unlock()

	if wasPending {
		s.reportSaving(false)
	}
	s.changed()
	return nil
}

// Add appends a sticker at the default position.
func (s *Session) Add(emoji string) (model.StickerItem, error) {
	item := model.StickerItem{
		ID:    util.GenUUID(),
		Emoji: strings.TrimSpace(emoji),
		X:     0.3,
		Y:     0.3,
		Scale: 1,
	}
	if err := item.Validate(); err != nil {
		return model.StickerItem{}, err
	}

	s.mu.Lock()
	if err := s.requireOpenLocked(); err != nil {
		s.mu.Unlock()
		return model.StickerItem{}, err
	}
	s.items = append(s.items, item)
	s.armSaveLocked()
	s.mu.Unlock()

	s.reportSaving(true)
	s.changed()
	return item, nil
}

// PointerDown selects a sticker, starts dragging it and arms the long press.
func (s *Session) PointerDown(id string, _ Point) error {
	s.mu.Lock()
	if err := s.requireOpenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return errors.Wrapf(model.ErrNotFound, "sticker %s", id)
	}
	s.dragging, s.selected = id, id
	s.cancelLongPressLocked()
	epoch, seq := s.epoch, s.pressSeq
	s.pressTime = time.AfterFunc(s.opts.LongPress, func() {
		s.longPress(epoch, seq, id)
	})
	s.mu.Unlock()

	s.changed()
	return nil
}

// PointerMove moves the dragged sticker to p, converted to the [0,1] frame of the bounds.
func (s *Session) PointerMove(p Point) {
	s.mu.Lock()
	if s.dragging == "" {
		s.mu.Unlock()
		return
	}
	s.cancelLongPressLocked()
	b := s.bounds
	if b.Width <= 0 || b.Height <= 0 {
		s.mu.Unlock()
		return
	}
	i := s.indexLocked(s.dragging)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.items[i].X = model.Clamp01((p.X - b.Left) / b.Width)
	s.items[i].Y = model.Clamp01((p.Y - b.Top) / b.Height)
	s.armSaveLocked()
	s.mu.Unlock()

	s.reportSaving(true)
	s.changed()
}

func (s *Session) PointerUp() {
	s.mu.Lock()
	s.dragging = ""
	s.cancelLongPressLocked()
	s.mu.Unlock()
}

// ClickCanvas handles a click on the empty canvas area.
func (s *Session) ClickCanvas() {
	s.mu.Lock()
	had := s.selected != ""
	s.selected = ""
	s.mu.Unlock()
	if had {
		s.changed()
	}
}

// KeyDown maps Delete and Backspace to deleting the selection and Escape to clearing it.
func (s *Session) KeyDown(key string) {
	switch key {
	case "Delete", "Backspace":
		s.mu.Lock()
		id := s.selected
		s.mu.Unlock()
		if id != "" {
			s.Delete(id)
		}
	case "Escape":
		s.ClickCanvas()
	}
}

// Delete removes a sticker. Keyboard and long press both end here.
func (s *Session) Delete(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	if s.selected == id {
		s.selected = ""
	}
	if s.dragging == id {
		s.dragging = ""
		s.cancelLongPressLocked()
	}
	s.armSaveLocked()
	s.mu.Unlock()

	s.reportSaving(true)
	s.changed()
	return true
}

func (s *Session) SetBounds(r Rect) {
	s.mu.Lock()
	s.bounds = r
	s.mu.Unlock()
}

func (s *Session) Items() []model.StickerItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StickerItem(nil), s.items...)
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Chapter returns the ids of the open chapter.
func (s *Session) Chapter() (bookID, chapterID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil {
		return "", "", false
	}
	return s.book.ID, s.chapter.ChapterID(), true
}

// Snapshot returns the current items as a collage with a fresh id.
func (s *Session) Snapshot() *model.Collage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.NewCollage(s.items)
}

// Background is what a chapter is drawn over, tagged with the chapter it belongs to.
type Background struct {
	BookID    string
	ChapterID string
	Image     *model.PageImage
	Text      string

	epoch uint64
}

// Background returns the page image of a PDF chapter or the text of a text chapter.
func (s *Session) Background(ctx context.Context) (*Background, error) {
	s.mu.Lock()
	book, chapter, epoch := s.book, s.chapter, s.epoch
	s.mu.Unlock()
	if book == nil {
		return nil, errors.Wrap(model.ErrInvalidInput, "no chapter is open")
	}
	bg := &Background{BookID: book.ID, ChapterID: chapter.ChapterID(), epoch: epoch}

	switch c := chapter.(type) {
	case *model.PDFChapter:
		live, _ := s.sources(book.ID)
		img, err := s.pages.Resolve(ctx, resolver.Request{Book: book, Page: c.PageNumber, Live: live})
		if err != nil {
			return nil, err
		}
		bg.Image = img
	case *model.TextChapter:
		bg.Text = c.Text
	default:
		return nil, errors.Errorf("unsupported chapter %T", chapter)
	}
	return bg, nil
}

// Current reports whether bg still belongs to the open chapter.
func (s *Session) Current(bg *Background) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bg != nil && bg.epoch == s.epoch && !s.closed
}

// Close writes a pending autosave at once and stops the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLongPressLocked()
	pending := s.pending
	epoch := s.epoch
	s.mu.Unlock()

	if pending {
		s.save(epoch)
	}

	s.mu.Lock()
	s.closed = true
	s.epoch++
	s.mu.Unlock()
}

func (s *Session) armSaveLocked() {
	s.pending = true
	epoch := s.epoch
	s.debounced(func() { s.save(epoch) })
}

// save persists a snapshot if the epoch that armed it is still current.
func (s *Session) save(epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch || !s.pending || s.book == nil {
		s.mu.Unlock()
		return
	}
	s.pending = false
	bookID, chapterID := s.book.ID, s.chapter.ChapterID()
	snapshot := model.NewCollage(s.items)
	s.mu.Unlock()

	err := s.collages.Save(context.Background(), bookID, chapterID, snapshot)
	s.reportSaving(false)
	if err != nil {
		log.Error("Autosave failed",
			zap.String("book_id", bookID), zap.String("chapter_id", chapterID), zap.Error(err))
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
	}
}

func (s *Session) longPress(epoch, seq uint64, id string) {
	s.mu.Lock()
	live := !s.closed && epoch == s.epoch && seq == s.pressSeq && s.dragging == id
	if live {
		s.pressTime = nil
	}
	s.mu.Unlock()
	if !live || s.opts.Confirmer == nil {
		return
	}

	if !s.opts.Confirmer.Confirm(deletePrompt) {
		return
	}
	s.mu.Lock()
	current := !s.closed && epoch == s.epoch
	s.mu.Unlock()
	if current {
		s.Delete(id)
	}
}

func (s *Session) cancelLongPressLocked() {
	s.pressSeq++
	if s.pressTime != nil {
		s.pressTime.Stop()
		s.pressTime = nil
	}
}

func (s *Session) requireOpenLocked() error {
	if s.closed {
		return errors.New("canvas session is closed")
	}
	if s.book == nil {
		return errors.Wrap(model.ErrInvalidInput, "no chapter is open")
	}
	return nil
}

func (s *Session) indexLocked(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) reportSaving(saving bool) {
	if s.opts.OnSaving != nil {
		s.opts.OnSaving(saving)
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}
