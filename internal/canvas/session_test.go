package canvas

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/resolver"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/store/storetest"
)

const (
	testDelay     = 40 * time.Millisecond
	testLongPress = 50 * time.Millisecond
)

type answer bool

func (a answer) Confirm(string) bool { return bool(a) }

type fakePages struct {
	mu   sync.Mutex
	reqs []resolver.Request
	// gate, when set, holds every resolution until it is closed; entered
	// receives a value as each held resolution starts.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakePages) Resolve(_ context.Context, req resolver.Request) (*model.PageImage, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &model.PageImage{MIME: "image/png", Data: []byte{1}}, nil
}

type fixture struct {
	collages *collage.Store
	session  *Session
	saves    atomic.Int32
	pages    *fakePages
	cancel   func()
}

func newFixture(t *testing.T, confirm Confirmer) *fixture {
	t.Helper()
	f := &fixture{
		collages: collage.NewStore(store.NewStore(storetest.New()), nil),
		pages:    &fakePages{},
	}
	events, cancel := f.collages.Notifier().Subscribe()
	f.cancel = cancel
	go func() {
		for range events {
			f.saves.Add(1)
		}
	}()
	sources := func(id string) ([]byte, bool) {
		if id == "pdf" {
			return []byte("%PDF"), true
		}
		return nil, false
	}
	f.session = NewSession(f.collages, f.pages, sources, Options{
		AutosaveDelay: testDelay,
		LongPress:     testLongPress,
		Confirmer:     confirm,
	})
	t.Cleanup(func() {
		f.session.Close()
		cancel()
	})
	return f
}

func textBook() *model.Book {
	return &model.Book{
		ID:   "book-1",
		Kind: model.BookKindText,
		Chapters: []model.Chapter{
			&model.TextChapter{ID: "c1", Title: "Um", Unlocked: true, Text: "era uma vez"},
			&model.TextChapter{ID: "c2", Title: "Dois", Text: "fim"},
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDragAndAutosave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.session
	if err := s.Open(ctx, textBook(), "c1"); err != nil {
		t.Fatal(err)
	}
	s.SetBounds(Rect{Width: 400, Height: 300})

	item, err := s.Add("⭐")
	if err != nil {
		t.Fatal(err)
	}
	if item.X != 0.3 || item.Y != 0.3 || item.Scale != 1 || item.Rotation != 0 {
		t.Errorf("unexpected default placement %+v", item)
	}
	if err := s.PointerDown(item.ID, Point{X: 120, Y: 90}); err != nil {
		t.Fatal(err)
	}
	s.PointerMove(Point{X: 300, Y: 60})
	s.PointerUp()

	waitFor(t, func() bool {
		_, ok, _ := f.collages.Get(ctx, "book-1", "c1")
		return ok
	})
	got, _, _ := f.collages.Get(ctx, "book-1", "c1")
	if len(got.Items) != 1 {
		t.Fatalf("expected one stored item, got %d", len(got.Items))
	}
	if it := got.Items[0]; it.X != 0.75 || it.Y != 0.2 || it.Emoji != "⭐" {
		t.Errorf("unexpected stored item %+v", it)
	}
}

func TestMoveIsClamped(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	_ = s.Open(context.Background(), textBook(), "c1")
	s.SetBounds(Rect{Left: 10, Top: 10, Width: 100, Height: 100})
	item, _ := s.Add("⭐")

	_ = s.PointerDown(item.ID, Point{})
	s.PointerMove(Point{X: -50, Y: 1000})
	got := s.Items()[0]
	if got.X != 0 || got.Y != 1 {
		t.Errorf("expected (0, 1), got (%v, %v)", got.X, got.Y)
	}

	s.SetBounds(Rect{})
	s.PointerMove(Point{X: 50, Y: 50})
	if got := s.Items()[0]; got.X != 0 || got.Y != 1 {
		t.Error("moves without bounds should be ignored")
	}
}

func TestBurstSavesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.session
	_ = s.Open(ctx, textBook(), "c1")
	s.SetBounds(Rect{Width: 100, Height: 100})

	item, _ := s.Add("⭐")
	_ = s.PointerDown(item.ID, Point{})
	for i := 0; i <= 50; i++ {
		s.PointerMove(Point{X: float64(i), Y: float64(i)})
	}
	s.PointerUp()

	waitFor(t, func() bool { return f.saves.Load() > 0 })
	time.Sleep(3 * testDelay)
	if n := f.saves.Load(); n != 1 {
		t.Errorf("expected exactly one save, got %d", n)
	}
	got, _, _ := f.collages.Get(ctx, "book-1", "c1")
	if it := got.Items[0]; it.X != 0.5 || it.Y != 0.5 {
		t.Errorf("save should hold the final state, got %+v", it)
	}
}

func TestChapterSwitchDropsPendingSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.session
	book := textBook()
	_ = s.Open(ctx, book, "c1")
	if _, err := s.Add("⭐"); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(ctx, book, "c2"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(4 * testDelay)
	if f.saves.Load() != 0 {
		t.Error("the stale autosave should never fire")
	}
	if _, ok, _ := f.collages.Get(ctx, "book-1", "c1"); ok {
		t.Error("chapter c1 should not have been written")
	}
	if len(s.Items()) != 0 {
		t.Error("chapter c2 should open empty")
	}
}

func TestOpenDoesNotSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	stored := model.NewCollage([]model.StickerItem{{ID: "s1", Emoji: "🌙", X: 0.1, Y: 0.1, Scale: 1}})
	if err := f.collages.Save(ctx, "book-1", "c1", stored); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return f.saves.Load() == 1 })

	if err := f.session.Open(ctx, textBook(), "c1"); err != nil {
		t.Fatal(err)
	}
	if items := f.session.Items(); len(items) != 1 || items[0].ID != "s1" {
		t.Fatalf("stored collage should be loaded, got %+v", items)
	}
	time.Sleep(4 * testDelay)
	if n := f.saves.Load(); n != 1 {
		t.Errorf("loading should not save, got %d saves", n)
	}
}

func TestOpenFallsBackToEmbeddedCollage(t *testing.T) {
	f := newFixture(t, nil)
	book := textBook()
	book.Chapters[1].(*model.TextChapter).Collage = model.NewCollage([]model.StickerItem{{ID: "e", Emoji: "⭐", X: 0.5, Y: 0.5, Scale: 1}})
	_ = f.session.Open(context.Background(), book, "c2")
	if items := f.session.Items(); len(items) != 1 || items[0].ID != "e" {
		t.Errorf("embedded collage should be used, got %+v", items)
	}
	if err := f.session.Open(context.Background(), book, "c9"); err == nil {
		t.Error("unknown chapter should fail")
	}
}

func TestKeyboard(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session
	_ = s.Open(context.Background(), textBook(), "c1")
	a, _ := s.Add("⭐")
	b, _ := s.Add("🌙")

	_ = s.PointerDown(a.ID, Point{})
	s.PointerUp()
	if s.Selected() != a.ID {
		t.Fatal("pointer down should select")
	}
	s.KeyDown("Escape")
	if s.Selected() != "" {
		t.Error("escape should clear the selection")
	}
	s.KeyDown("Delete")
	if len(s.Items()) != 2 {
		t.Error("delete without a selection is a no-op")
	}

	_ = s.PointerDown(b.ID, Point{})
	s.PointerUp()
	s.KeyDown("Backspace")
	items := s.Items()
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("backspace should delete the selected sticker, left %+v", items)
	}
	if s.Selected() != "" {
		t.Error("deleting the selection should clear it")
	}

	_ = s.PointerDown(a.ID, Point{})
	s.PointerUp()
	s.ClickCanvas()
	if s.Selected() != "" {
		t.Error("clicking the canvas should clear the selection")
	}
}

func TestLongPress(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		s := newFixture(t, answer(true)).session
		_ = s.Open(context.Background(), textBook(), "c1")
		item, _ := s.Add("⭐")
		_ = s.PointerDown(item.ID, Point{})
		waitFor(t, func() bool { return len(s.Items()) == 0 })
	})

	t.Run("declined", func(t *testing.T) {
		s := newFixture(t, answer(false)).session
		_ = s.Open(context.Background(), textBook(), "c1")
		item, _ := s.Add("⭐")
		_ = s.PointerDown(item.ID, Point{})
		time.Sleep(3 * testLongPress)
		if len(s.Items()) != 1 {
			t.Error("declined long press should keep the sticker")
		}
	})

	t.Run("cancelled by move", func(t *testing.T) {
		s := newFixture(t, answer(true)).session
		_ = s.Open(context.Background(), textBook(), "c1")
		s.SetBounds(Rect{Width: 10, Height: 10})
		item, _ := s.Add("⭐")
		_ = s.PointerDown(item.ID, Point{})
		s.PointerMove(Point{X: 1, Y: 1})
		time.Sleep(3 * testLongPress)
		if len(s.Items()) != 1 {
			t.Error("moving should cancel the long press")
		}
	})

	t.Run("cancelled by release", func(t *testing.T) {
		s := newFixture(t, answer(true)).session
		_ = s.Open(context.Background(), textBook(), "c1")
		item, _ := s.Add("⭐")
		_ = s.PointerDown(item.ID, Point{})
		s.PointerUp()
		time.Sleep(3 * testLongPress)
		if len(s.Items()) != 1 {
			t.Error("releasing should cancel the long press")
		}
	})
}

func TestCloseFlushesPendingSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := NewSession(f.collages, f.pages, nil, Options{AutosaveDelay: time.Hour})
	_ = s.Open(ctx, textBook(), "c1")
	_, _ = s.Add("⭐")
	s.Close()
	if _, ok, _ := f.collages.Get(ctx, "book-1", "c1"); !ok {
		t.Error("close should write the pending save")
	}
	if _, err := s.Add("🌙"); err == nil {
		t.Error("closed session should reject edits")
	}
}

func TestBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.session

	_ = s.Open(ctx, textBook(), "c1")
	bg, err := s.Background(ctx)
	if err != nil || bg.Text != "era uma vez" || bg.Image != nil {
		t.Fatalf("text chapter background: %+v %v", bg, err)
	}

	pdfBook := &model.Book{
		ID:         "pdf",
		Kind:       model.BookKindPDF,
		TotalPages: 3,
		Dynamic:    true,
		Chapters:   []model.Chapter{&model.PDFChapter{ID: model.PDFChapterID("pdf", 2), PageNumber: 2}},
	}
	_ = s.Open(ctx, pdfBook, model.PDFChapterID("pdf", 2))
	bg, err = s.Background(ctx)
	if err != nil || bg.Image == nil {
		t.Fatalf("pdf chapter background: %+v %v", bg, err)
	}
	req := f.pages.reqs[0]
	if req.Page != 2 || req.Book.ID != "pdf" || string(req.Live) != "%PDF" {
		t.Errorf("unexpected resolve request %+v", req)
	}
}

func TestBackgroundOfSupersededChapter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	s := f.session
	f.pages.gate = make(chan struct{})
	f.pages.entered = make(chan struct{}, 4)

	pdfBook := &model.Book{
		ID:         "pdf",
		Kind:       model.BookKindPDF,
		TotalPages: 2,
		Dynamic:    true,
		Chapters: []model.Chapter{
			&model.PDFChapter{ID: model.PDFChapterID("pdf", 1), PageNumber: 1},
			&model.PDFChapter{ID: model.PDFChapterID("pdf", 2), PageNumber: 2},
		},
	}
	if err := s.Open(ctx, pdfBook, model.PDFChapterID("pdf", 1)); err != nil {
		t.Fatal(err)
	}

	type result struct {
		bg  *Background
		err error
	}
	done := make(chan result, 1)
	go func() {
		bg, err := s.Background(ctx)
		done <- result{bg, err}
	}()
	<-f.pages.entered

	if err := s.Open(ctx, pdfBook, model.PDFChapterID("pdf", 2)); err != nil {
		t.Fatal(err)
	}
	close(f.pages.gate)

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.bg.ChapterID != model.PDFChapterID("pdf", 1) || res.bg.BookID != "pdf" {
		t.Errorf("background should be tagged with the chapter it was resolved for, got %s/%s",
			res.bg.BookID, res.bg.ChapterID)
	}
	if s.Current(res.bg) {
		t.Error("background of a superseded chapter should not be current")
	}

	bg, err := s.Background(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Current(bg) || bg.ChapterID != model.PDFChapterID("pdf", 2) {
		t.Errorf("fresh background should be current, got %s", bg.ChapterID)
	}
}
