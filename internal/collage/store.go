package collage // import "github.com/Xunop/celestial/internal/collage"

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/store"
)

const KeyPrefix = "pdf-collages/"

// record carries the ids so that book cascades never rely on parsing keys.
type record struct {
	BookID    string         `json:"book_id"`
	ChapterID string         `json:"chapter_id"`
	Collage   *model.Collage `json:"collage"`
}

// Owner reports whether a book still exists.
type Owner func(bookID string) bool

// Store persists one collage per (book, chapter) under "pdf-collages/{bookId}-{chapterId}".
type Store struct {
	store    *store.Store
	notifier *Notifier

	// mu orders saves against book removal: once RemoveAllForBook returns
	// for a book its owner no longer holds, no save for it can land.
	mu    sync.Mutex
	owner Owner
}

func NewStore(s *store.Store, n *Notifier) *Store {
	if n == nil {
		n = NewNotifier()
	}
	return &Store{store: s, notifier: n}
}

// SetOwner makes Save refuse collages of books owner does not know.
func (s *Store) SetOwner(owner Owner) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

func (s *Store) Notifier() *Notifier {
	return s.notifier
}

func Key(bookID, chapterID string) string {
	return KeyPrefix + bookID + "-" + chapterID
}

func (s *Store) Get(ctx context.Context, bookID, chapterID string) (*model.Collage, bool, error) {
	var rec record
	ok, err := s.store.GetJSON(ctx, Key(bookID, chapterID), &rec)
	if err != nil || !ok || rec.Collage == nil {
		return nil, false, err
	}
	return rec.Collage, true, nil
}

// Save overwrites the stored collage and announces the change.
func (s *Store) Save(ctx context.Context, bookID, chapterID string, c *model.Collage) error {
	if c == nil {
		return errors.Wrap(model.ErrInvalidInput, "collage is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	rec := record{BookID: bookID, ChapterID: chapterID, Collage: c}
	s.mu.Lock()
	if s.owner != nil && !s.owner(bookID) {
		s.mu.Unlock()
		return errors.Wrapf(model.ErrNotFound, "book %s", bookID)
	}
	err := s.store.SetJSON(ctx, Key(bookID, chapterID), rec)
	s.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "failed to save collage of %s/%s", bookID, chapterID)
	}
	s.notifier.Publish(model.CollageEvent{BookID: bookID, ChapterID: chapterID})
	log.Debug("Saved collage",
		zap.String("book_id", bookID), zap.String("chapter_id", chapterID), zap.Int("items", len(c.Items)))
	return nil
}

func (s *Store) Remove(ctx context.Context, bookID, chapterID string) error {
	if err := s.store.Delete(ctx, Key(bookID, chapterID)); err != nil {
		return errors.Wrapf(err, "failed to remove collage of %s/%s", bookID, chapterID)
	}
	return nil
}

// RemoveAllForBook deletes every collage recorded for bookID and nothing else.
func (s *Store) RemoveAllForBook(ctx context.Context, bookID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.store.Keys(ctx, KeyPrefix+bookID+"-")
	if err != nil {
		return 0, errors.Wrapf(err, "failed to list collages of %s", bookID)
	}
	var doomed []string
	for _, k := range keys {
		rec, ok := s.read(ctx, k)
		// Prefix matches of "book-a" also hit "book-a-2": check the owner.
		if ok && rec.BookID != bookID {
			continue
		}
		doomed = append(doomed, k)
	}
	if err := s.store.Delete(ctx, doomed...); err != nil {
		return 0, errors.Wrapf(err, "failed to remove collages of %s", bookID)
	}
	return len(doomed), nil
}

// Books returns the ids of every book that owns at least one stored collage.
func (s *Store) Books(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, k := range keys {
		rec, ok := s.read(ctx, k)
		if !ok || seen[rec.BookID] {
			continue
		}
		seen[rec.BookID] = true
		ids = append(ids, rec.BookID)
	}
	return ids, nil
}

func (s *Store) read(ctx context.Context, key string) (record, bool) {
	var rec record
	ok, err := s.store.GetJSON(ctx, key, &rec)
	if err != nil {
		log.Warn("Unreadable collage record", zap.String("key", key), zap.Error(err))
		return rec, false
	}
	if !ok || rec.BookID == "" {
		return rec, false
	}
	return rec, true
}
