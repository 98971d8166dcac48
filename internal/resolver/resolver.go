package resolver // import "github.com/Xunop/celestial/internal/resolver"

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/pdf"
	"github.com/Xunop/celestial/internal/storage"
	"github.com/Xunop/celestial/internal/worker"
)

type Request struct {
	Book *model.Book
	Page int
	// Width in pixels; zero selects the default render width.
	Width int
	// Live is the in-memory original of the book, if the caller holds one.
	Live []byte
}

// Resolver produces the image of a book page from whichever source is available:
// a live document, the page cache, the remote original, then static assets.
type Resolver struct {
	loader  *pdf.Loader
	storage *storage.Selector
	writers *worker.Pool
	static  fs.FS

	docs  *lru.Cache[string, *pdf.Document]
	group singleflight.Group

	// writeMu is held for reading by every cache write and for writing by Forget,
	// so no write for a forgotten book lands once Forget returns.
	writeMu   sync.RWMutex
	forgotten map[string]struct{}
}

// New builds a resolver. Cache writes run on writers; a nil pool gets a private one.
func New(loader *pdf.Loader, sel *storage.Selector, writers *worker.Pool, static fs.FS, docCacheSize int) (*Resolver, error) {
	if docCacheSize < 1 {
		docCacheSize = 1
	}
	docs, err := lru.New[string, *pdf.Document](docCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create document cache")
	}
	if writers == nil {
		writers = worker.NewPool("cache", 1)
	}
	return &Resolver{
		loader:    loader,
		storage:   sel,
		writers:   writers,
		static:    static,
		docs:      docs,
		forgotten: map[string]struct{}{},
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (*model.PageImage, error) {
	if req.Book == nil {
		return nil, errors.Wrap(model.ErrInvalidInput, "book is required")
	}
	if req.Page < 1 || (req.Book.TotalPages > 0 && req.Page > req.Book.TotalPages) {
		return nil, &model.PageOutOfRangeError{Page: req.Page, NumPages: req.Book.TotalPages}
	}
	width := req.Width
	if width <= 0 {
		width = r.loader.DefaultWidth()
	}

	key := fmt.Sprintf("%s::%d::%d::%t", req.Book.ID, req.Page, width, req.Live != nil)
	// The shared work outlives any single caller; each caller only stops waiting.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.resolve(shared, req, width)
	})
	select {
	case res := <-ch:
		if res.Shared {
			log.Debug("Coalesced page resolution", zap.String("key", key))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.PageImage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, req Request, width int) (*model.PageImage, error) {
	book := req.Book
	// The page cache only holds default-width renders.
	cacheable := width == r.loader.DefaultWidth()
	backend := r.storage.Select()

	// A cached page of a book with a live source was rendered from that source.
	if cacheable {
		img, ok, err := backend.GetPage(ctx, book.ID, req.Page)
		if err != nil {
			log.Warn("Page cache read failed",
				zap.String("backend", backend.Name()), zap.String("book_id", book.ID), zap.Error(err))
		}
		if ok {
			return img, nil
		}
	}

	if req.Live != nil {
		doc, err := r.loader.Load(ctx, req.Live)
		if err != nil {
			return nil, err
		}
		img, err := r.render(ctx, doc, req.Page, width)
		if err != nil {
			// A book with a live source never falls back to a stale static page.
			return nil, err
		}
		if cacheable {
			r.cache(backend, book.ID, req.Page, img)
		}
		return img, nil
	}

	if book.Dynamic {
		if src := r.storage.Source(); src != nil {
			doc, ok, err := r.remoteDocument(ctx, book.ID, src)
			if err != nil {
				log.Warn("Remote source unavailable", zap.String("book_id", book.ID), zap.Error(err))
			}
			if ok {
				img, err := r.render(ctx, doc, req.Page, width)
				if err != nil {
					return nil, err
				}
				if cacheable {
					r.cache(backend, book.ID, req.Page, img)
				}
				return img, nil
			}
		}
	}

	if img, ok := r.staticPage(book.ID, req.Page); ok {
		return img, nil
	}
	return nil, &model.NotFoundError{BookID: book.ID, Page: req.Page}
}

func (r *Resolver) render(ctx context.Context, doc *pdf.Document, n, width int) (*model.PageImage, error) {
	page, err := doc.Page(n)
	if err != nil {
		return nil, err
	}
	return page.RenderToImage(ctx, width)
}

// remoteDocument downloads the original of a book once and keeps it open.
func (r *Resolver) remoteDocument(ctx context.Context, bookID string, src storage.SourceStore) (*pdf.Document, bool, error) {
	if doc, ok := r.docs.Get(bookID); ok {
		return doc, true, nil
	}
	v, err, _ := r.group.Do("source::"+bookID, func() (any, error) {
		if doc, ok := r.docs.Get(bookID); ok {
			return doc, nil
		}
		data, ok, err := src.GetSource(ctx, bookID)
		if err != nil || !ok {
			return nil, err
		}
		doc, err := r.loader.Load(ctx, data)
		if err != nil {
			return nil, err
		}
		r.docs.Add(bookID, doc)
		log.Info("Downloaded remote source", zap.String("book_id", bookID), zap.Int("pages", doc.NumPages))
		return doc, nil
	})
	if err != nil {
		return nil, false, err
	}
	doc, _ := v.(*pdf.Document)
	return doc, doc != nil, nil
}

func (r *Resolver) staticPage(bookID string, n int) (*model.PageImage, bool) {
	if r.static == nil {
		return nil, false
	}
	for _, candidate := range []struct{ ext, mime string }{
		{"svg", model.MIMESVG},
		{"png", model.MIMEPNG},
	} {
		name := fmt.Sprintf("books/%s/page-%d.%s", bookID, n, candidate.ext)
		data, err := fs.ReadFile(r.static, name)
		if err == nil {
			return &model.PageImage{MIME: candidate.mime, Data: data}, true
		}
	}
	return nil, false
}

// cache persists a rendered page without blocking the caller. Failures are only logged.
func (r *Resolver) cache(backend storage.PageStorage, bookID string, page int, img *model.PageImage) {
	r.writers.Go("cache page", func(ctx context.Context) error {
		r.writeMu.RLock()
		defer r.writeMu.RUnlock()
		if _, gone := r.forgotten[bookID]; gone {
			log.Debug("Dropping page of a forgotten book", zap.String("book_id", bookID), zap.Int("page", page))
			return nil
		}
		if err := backend.SetPage(ctx, bookID, page, img); err != nil {
			log.Warn("Failed to cache page",
				zap.String("backend", backend.Name()),
				zap.String("book_id", bookID),
				zap.Int("page", page),
				zap.Error(err))
		}
		return nil
	})
}

// Flush waits for pending cache writes.
func (r *Resolver) Flush() {
	r.writers.Wait()
}

// Forget drops the downloaded original of a book and every cache write for
// it that has not started yet. Writes in flight finish before Forget returns.
func (r *Resolver) Forget(bookID string) {
	r.writeMu.Lock()
	r.forgotten[bookID] = struct{}{}
	r.writeMu.Unlock()
	r.docs.Remove(bookID)
}
