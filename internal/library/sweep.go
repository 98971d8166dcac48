package library

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
)

// SweepOrphans removes cached pages and collages whose book no longer exists.
// Books of the last non-empty manifest are kept, so a manifest that is briefly
// missing while being rewritten does not cost their collages.
// It returns the number of books swept.
func (l *Library) SweepOrphans(ctx context.Context) (int, error) {
	cached, err := l.storage.Local().CachedBooks(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list cached books")
	}
	withCollages, err := l.collages.Books(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list collage owners")
	}

	orphans := map[string]bool{}
	l.mu.RLock()
	for _, id := range append(cached, withCollages...) {
		if _, ok := l.lookup(id); !ok && !l.lastStatic[id] {
			orphans[id] = true
		}
	}
	l.mu.RUnlock()

	for id := range orphans {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := l.storage.Local().RemoveBook(ctx, id); err != nil {
			log.Warn("Failed to sweep cached pages", zap.String("book_id", id), zap.Error(err))
		}
		if _, err := l.collages.RemoveAllForBook(ctx, id); err != nil {
			log.Warn("Failed to sweep collages", zap.String("book_id", id), zap.Error(err))
		}
	}
	if len(orphans) > 0 {
		log.Info("Swept orphaned book data", zap.Int("books", len(orphans)))
	}
	return len(orphans), nil
}
