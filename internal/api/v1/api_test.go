package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Xunop/celestial/internal/canvas"
	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/export"
	"github.com/Xunop/celestial/internal/http/response"
	"github.com/Xunop/celestial/internal/library"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/pdf"
	"github.com/Xunop/celestial/internal/pdf/pdftest"
	"github.com/Xunop/celestial/internal/remote"
	"github.com/Xunop/celestial/internal/resolver"
	"github.com/Xunop/celestial/internal/storage"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/store/storetest"
	"github.com/Xunop/celestial/internal/worker"
)

const testPassword = "s3cret-moon"

type fixture struct {
	router   http.Handler
	library  *library.Library
	collages *collage.Store
	token    string
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	staticDir := t.TempDir()
	manifest := `[{"id":"moon","title":"Lua","filename":"moon.pdf","pages":2}]`
	if err := os.MkdirAll(filepath.Join(staticDir, "books"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "books", "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	s := store.NewStore(storetest.New())
	collages := collage.NewStore(s, nil)
	session := remote.NewSession(false, nil, nil)
	sel := storage.NewSelector(storage.NewLocalStorage(s), session)

	renderPool := worker.NewPool("render", 2)
	writers := worker.NewPool("cache", 1)
	t.Cleanup(func() {
		renderPool.Close()
		writers.Close()
	})
	loader := pdf.NewLoader(renderPool, &pdftest.Rasterizer{}, pdf.WithWidth(100))
	res, err := resolver.New(loader, sel, writers, os.DirFS(staticDir), 4)
	if err != nil {
		t.Fatal(err)
	}
	lib := library.New(s, collages, sel, res, staticDir)
	if err := lib.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	var hash string
	if password != "" {
		if hash, err = HashPassword(password); err != nil {
			t.Fatal(err)
		}
	}
	h := NewHandler(Deps{
		Library:       lib,
		Resolver:      res,
		Loader:        loader,
		Collages:      collages,
		Exporter:      export.New(res, collages, lib.Source),
		Remote:        session,
		Auth:          NewAuthenticator(hash, "test-secret"),
		AutosaveDelay: 30 * time.Millisecond,
		LongPress:     time.Hour,
	})
	router := mux.NewRouter()
	Server(router, h)
	return &fixture{router: router, library: lib, collages: collages}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(buf)
	}
	r := httptest.NewRequest(method, path, rd)
	if f.token != "" {
		r.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/signin", map[string]string{"password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), AccessTokenCookieName+"=") {
		t.Error("sign in should set the access token cookie")
	}
	var resp signInResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	f.token = resp.AccessToken
}

func (f *fixture) uploadPDF(t *testing.T, title string, pages int) *model.Book {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "book.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pdftest.Document(pages, 200, 300))
	mw.WriteField("title", title)
	mw.WriteField("chapter_titles", "Capa")
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/books/pdf", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	if f.token != "" {
		r.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}
	var book model.Book
	if err := json.Unmarshal(w.Body.Bytes(), &book); err != nil {
		t.Fatal(err)
	}
	return &book
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("not an error body: %s", w.Body.String())
	}
	return body
}

func TestListBooks(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/books", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("responses should carry the security headers")
	}
	var books []*model.Book
	if err := json.Unmarshal(w.Body.Bytes(), &books); err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 || books[0].ID != "moon" || books[1].ID != "text-book-1" {
		t.Fatalf("expected the static pdf book then the seed, got %d books", len(books))
	}
}

func TestAdminGate(t *testing.T) {
	f := newFixture(t, testPassword)
	create := map[string]any{"title": "Novo", "chapters": []map[string]string{{"title": "Um", "text": "oi"}}}

	if w := f.do(t, http.MethodPost, "/api/v1/books", create); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create should be rejected, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/signin", map[string]string{"password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password should be rejected, got %d", w.Code)
	}
	f.token = "garbage"
	if w := f.do(t, http.MethodPost, "/api/v1/books", create); w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token should be rejected, got %d", w.Code)
	}

	f.signIn(t)
	w := f.do(t, http.MethodPost, "/api/v1/books", create)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create failed: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/api/v1/books", nil); w.Code != http.StatusOK {
		t.Error("public routes stay open")
	}
}

func TestPDFBookPages(t *testing.T) {
	f := newFixture(t, "")
	book := f.uploadPDF(t, "Estrelas", 3)
	if book.TotalPages != 3 || len(book.Chapters) != 3 {
		t.Fatalf("unexpected book %+v", book)
	}
	if book.Chapters[0].ChapterTitle() != "Capa" || book.Chapters[1].ChapterTitle() != "Pagina 2" {
		t.Errorf("unexpected chapter titles")
	}

	w := f.do(t, http.MethodGet, "/api/v1/books/"+book.ID+"/pages/2", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != model.MIMEPNG {
		t.Fatalf("page render failed: %d %s", w.Code, w.Header().Get("Content-Type"))
	}

	w = f.do(t, http.MethodGet, "/api/v1/books/"+book.ID+"/pages/9", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out of range page should be 400, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Kind != "page_out_of_range" || body.NumPages != 3 {
		t.Errorf("unexpected error body %+v", body)
	}

	w = f.do(t, http.MethodGet, "/api/v1/books/"+book.ID+"/cover", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/webp" {
		t.Errorf("cover should be a webp thumbnail, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}

	w = f.do(t, http.MethodGet, "/api/v1/books/"+book.ID+"/export.epub", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != epubMIME {
		t.Fatalf("export failed: %d", w.Code)
	}
	archive, err := export.ReadArchive(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if archive.Title() != "Estrelas" {
		t.Errorf("unexpected epub title %q", archive.Title())
	}
}

func TestMissingPageCarriesHint(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/books/moon/pages/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Hint == "" {
		t.Error("missing page should carry a hint")
	}
	if w := f.do(t, http.MethodGet, "/api/v1/books/text-book-1/pages/1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("text books have no pages, got %d", w.Code)
	}
}

func TestDeleteBook(t *testing.T) {
	f := newFixture(t, "")
	book := f.uploadPDF(t, "Apagar", 2)
	chapter := book.Chapters[0].ChapterID()
	c := model.NewCollage([]model.StickerItem{{ID: "s", Emoji: "⭐", X: 0.5, Y: 0.5, Scale: 1}})
	if w := f.do(t, http.MethodPut, "/api/v1/books/"+book.ID+"/chapters/"+chapter+"/collage", c); w.Code != http.StatusOK {
		t.Fatalf("put collage failed: %d %s", w.Code, w.Body.String())
	}

	if w := f.do(t, http.MethodDelete, "/api/v1/books/"+book.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/api/v1/books/"+book.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted book should be gone, got %d", w.Code)
	}
	if _, ok, _ := f.collages.Get(context.Background(), book.ID, chapter); ok {
		t.Error("collages should be removed with the book")
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/books/moon", nil); w.Code != http.StatusForbidden {
		t.Errorf("static books cannot be deleted, got %d", w.Code)
	}
}

func TestCollageRoutes(t *testing.T) {
	f := newFixture(t, "")
	path := "/api/v1/books/text-book-1/chapters/c1/collage"

	w := f.do(t, http.MethodGet, path, nil)
	var got model.Collage
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || len(got.Items) != 0 {
		t.Fatalf("empty chapter should give an empty collage, got %s", w.Body.String())
	}

	bad := map[string]any{"items": []map[string]any{{"id": "x", "emoji": "⭐", "x": 3, "y": 0, "scale": 1}}}
	if w := f.do(t, http.MethodPut, path, bad); w.Code != http.StatusBadRequest {
		t.Errorf("invalid collage should be 400, got %d", w.Code)
	}

	good := map[string]any{"items": []map[string]any{{"id": "x", "emoji": "⭐", "x": 0.75, "y": 0.2, "scale": 1}}}
	if w := f.do(t, http.MethodPut, path, good); w.Code != http.StatusOK {
		t.Fatalf("put failed: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, path, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || len(got.Items) != 1 || got.ID == "" {
		t.Fatalf("stored collage not returned: %s", w.Body.String())
	}

	if w := f.do(t, http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete failed: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/books/text-book-1/chapters/nope/collage", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown chapter should be 404, got %d", w.Code)
	}
}

func TestActiveAndUnlock(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodPost, "/api/v1/books/text-book-1/active", map[string]string{"chapter_id": "c2"})
	if w.Code != http.StatusOK {
		t.Fatalf("set active failed: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":"c2"`) {
		t.Errorf("active chapter should be c2, got %s", w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/v1/books/nope/active", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown book should be 404, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/books/text-book-1/chapters/c2/unlock", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unlock failed: %d", w.Code)
	}
	book, _ := f.library.Book("text-book-1")
	if c, _ := book.Chapter("c2"); !c.IsUnlocked() {
		t.Error("chapter should be unlocked")
	}
}

func TestRemoteStatus(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/remote", nil)
	var st remote.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Enabled || st.Authenticated {
		t.Fatalf("remote should start disabled, got %s", w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/v1/remote/connect", map[string]string{}); w.Code != http.StatusUnauthorized {
		t.Errorf("empty token should be an authorization failure, got %d", w.Code)
	}
}

func TestOPDSFeed(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/opds", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"urn:celestial:book:moon", "/api/v1/books/text-book-1/export.epub", "/api/v1/books/moon/cover"} {
		if !strings.Contains(body, want) {
			t.Errorf("feed misses %q", want)
		}
	}
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestCollageEventsSocket(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	conn := dial(t, srv, "/api/v1/events")

	// The subscription is registered after the upgrade; retry until the event is seen.
	got := make(chan model.CollageEvent, 1)
	go func() {
		var ev model.CollageEvent
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()
	c := model.NewCollage(nil)
	deadline := time.After(5 * time.Second)
	for {
		if err := f.collages.Save(context.Background(), "text-book-1", "c1", c); err != nil {
			t.Fatal(err)
		}
		select {
		case ev := <-got:
			if ev.BookID != "text-book-1" || ev.ChapterID != "c1" {
				t.Errorf("unexpected event %+v", ev)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(studioEvent) bool) studioEvent {
	t.Helper()
	for {
		var ev studioEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func TestStudioSocket(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	conn := dial(t, srv, "/api/v1/studio")

	send := func(msg studioMessage) {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatal(err)
		}
	}
	send(studioMessage{Type: "open", BookID: "text-book-1", ChapterID: "c1"})
	bg := readUntil(t, conn, func(ev studioEvent) bool { return ev.Type == "background" })
	if bg.Text == "" {
		t.Error("text chapter background should carry its text")
	}

	send(studioMessage{Type: "bounds", Bounds: &canvasRect400})
	send(studioMessage{Type: "add", Emoji: "⭐"})
	state := readUntil(t, conn, func(ev studioEvent) bool { return ev.Type == "state" && len(ev.Items) == 1 })
	id := state.Items[0].ID

	send(studioMessage{Type: "down", ID: id, X: 120, Y: 120})
	send(studioMessage{Type: "move", X: 300, Y: 80})
	send(studioMessage{Type: "up"})
	readUntil(t, conn, func(ev studioEvent) bool {
		return ev.Type == "state" && len(ev.Items) == 1 && ev.Items[0].X == 0.75 && ev.Items[0].Y == 0.2
	})
	readUntil(t, conn, func(ev studioEvent) bool { return ev.Type == "saving" && ev.Saving != nil && !*ev.Saving })

	stored, ok, err := f.collages.Get(context.Background(), "text-book-1", "c1")
	if err != nil || !ok || len(stored.Items) != 1 {
		t.Fatalf("autosave should persist the collage, got %+v ok=%v err=%v", stored, ok, err)
	}

	send(studioMessage{Type: "nonsense"})
	readUntil(t, conn, func(ev studioEvent) bool { return ev.Type == "error" })
}

var canvasRect400 = canvas.Rect{Width: 400, Height: 400}

func TestRejectsInvalidUploads(t *testing.T) {
	f := newFixture(t, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "book.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("not a pdf at all"))
	mw.WriteField("title", "Falso")
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/books/pdf", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-PDF upload, got %d", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/api/v1/books", map[string]any{"title": "", "chapters": []any{}}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty text book, got %d", w.Code)
	}
}
