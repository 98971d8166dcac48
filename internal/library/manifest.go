package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
)

const manifestReloadDelay = 200 * time.Millisecond

func (l *Library) manifestPath() string {
	return filepath.Join(l.staticDir, "books", "manifest.json")
}

func readManifest(path string) ([]model.ManifestEntry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}
	var entries []model.ManifestEntry
	if err := json.Unmarshal(buf, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse manifest %s", path)
	}
	return entries, nil
}

func staticBook(e model.ManifestEntry, unlocked []string) *model.Book {
	book := &model.Book{
		ID:         e.ID,
		Title:      e.Title,
		Kind:       model.BookKindPDF,
		TotalPages: e.Pages,
		Static:     true,
		PDFPath:    "books/" + e.Filename,
	}
	open := map[string]bool{}
	for _, id := range unlocked {
		open[id] = true
	}
	for n := 1; n <= e.Pages; n++ {
		id := model.PDFChapterID(e.ID, n)
		book.Chapters = append(book.Chapters, &model.PDFChapter{
			ID:         id,
			Title:      fmt.Sprintf("Pagina %d", n),
			PageNumber: n,
			Unlocked:   n == 1 || open[id],
		})
	}
	return book
}

// ReloadManifest rebuilds the static books. A missing manifest means no static books.
func (l *Library) ReloadManifest() error {
	entries, err := readManifest(l.manifestPath())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	static := make(map[string]*model.Book, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Pages < 1 {
			log.Warn("Skipping manifest entry", zap.String("book_id", e.ID), zap.Int("pages", e.Pages))
			continue
		}
		if _, taken := l.books[e.ID]; taken {
			log.Warn("Manifest book shadows a stored book", zap.String("book_id", e.ID))
			continue
		}
		static[e.ID] = staticBook(e, l.staticUnlocked[e.ID])
	}
	l.static = static
	if len(static) > 0 {
		l.lastStatic = make(map[string]bool, len(static))
		for id := range static {
			l.lastStatic[id] = true
		}
	}
	log.Debug("Loaded manifest", zap.Int("books", len(static)))
	return nil
}

// WatchManifest reloads the static books whenever the manifest changes, until ctx is done.
func (l *Library) WatchManifest(ctx context.Context) error {
	dir := filepath.Dir(l.manifestPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create manifest watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch %s", dir)
	}

	debounced := debounce.New(manifestReloadDelay)
	reload := func() {
		if err := l.ReloadManifest(); err != nil {
			log.Error("Manifest reload failed", zap.Error(err))
			return
		}
		log.Info("Manifest reloaded")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "manifest.json" {
					continue
				}
				debounced(reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Manifest watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
