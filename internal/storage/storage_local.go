package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/store"
)

// LocalStorage keeps pages in the key-value store as data URLs under
// "pdf-previews/{bookId}::{page}".
type LocalStorage struct {
	store *store.Store
}

var _ PageStorage = (*LocalStorage)(nil)

func NewLocalStorage(s *store.Store) *LocalStorage {
	return &LocalStorage{store: s}
}

func (s *LocalStorage) Name() string { return "local" }

func (s *LocalStorage) GetPage(ctx context.Context, bookID string, page int) (*model.PageImage, bool, error) {
	raw, ok, err := s.store.Get(ctx, pageKey(bookID, page))
	if err != nil || !ok {
		return nil, false, err
	}
	img, err := model.ParsePageImage(string(raw))
	if err != nil {
		log.Warn("Dropping unreadable cached page",
			zap.String("book_id", bookID), zap.Int("page", page), zap.Error(err))
		return nil, false, nil
	}
	return img, true, nil
}

// SetPage never fails the caller. A failed write leaves the cache cold.
func (s *LocalStorage) SetPage(ctx context.Context, bookID string, page int, img *model.PageImage) error {
	if err := s.store.Set(ctx, pageKey(bookID, page), []byte(img.DataURL())); err != nil {
		log.Warn("Failed to cache page",
			zap.String("book_id", bookID),
			zap.Int("page", page),
			zap.Error(errors.Wrap(model.ErrStorageWrite, err.Error())))
	}
	return nil
}

func (s *LocalStorage) RemoveBook(ctx context.Context, bookID string) error {
	keys, err := s.store.Keys(ctx, bookKeyPrefix(bookID))
	if err != nil {
		return errors.Wrapf(err, "failed to list cached pages of %s", bookID)
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return errors.Wrapf(err, "failed to remove cached pages of %s", bookID)
	}
	log.Debug("Removed cached pages", zap.String("book_id", bookID), zap.Int("count", len(keys)))
	return nil
}

// CachedBooks returns the ids of every book with at least one cached page.
func (s *LocalStorage) CachedBooks(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, PreviewPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, k := range keys {
		id, _, ok := strings.Cut(strings.TrimPrefix(k, PreviewPrefix), "::")
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
