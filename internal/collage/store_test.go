package collage

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Xunop/celestial/internal/model"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/store/storetest"
)

func newTestStore() (*Store, *storetest.MemKV) {
	kv := storetest.New()
	return NewStore(store.NewStore(kv), nil), kv
}

func sample(n int) *model.Collage {
	items := make([]model.StickerItem, n)
	for i := range items {
		items[i] = model.StickerItem{ID: string(rune('a' + i)), Emoji: "⭐", X: 0.3, Y: 0.3, Scale: 1}
	}
	return model.NewCollage(items)
}

func TestSaveGetRemove(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore()

	if _, ok, err := s.Get(ctx, "b1", "c1"); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := s.Save(ctx, "b1", "c1", sample(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "b1", "c1", sample(3)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(ctx, "b1", "c1")
	if err != nil || !ok || len(got.Items) != 3 {
		t.Fatalf("save should overwrite, got %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := kv.Get(ctx, "pdf-collages/b1-c1"); !ok {
		t.Error("collage should live under pdf-collages/{bookId}-{chapterId}")
	}

	if err := s.Remove(ctx, "b1", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "b1", "c1"); ok {
		t.Error("removed collage should be absent")
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	s, _ := newTestStore()
	bad := model.NewCollage([]model.StickerItem{{ID: "x", Emoji: "⭐", X: 2, Y: 0, Scale: 1}})
	if err := s.Save(context.Background(), "b", "c", bad); err == nil {
		t.Error("out of range position should be rejected")
	}
	if err := s.Save(context.Background(), "b", "c", nil); err == nil {
		t.Error("nil collage should be rejected")
	}
}

func TestRemoveAllForBookIsExact(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	_ = s.Save(ctx, "book-a", "c1", sample(1))
	_ = s.Save(ctx, "book-a", "c2", sample(1))
	_ = s.Save(ctx, "book-a-2", "c1", sample(1))
	_ = s.Save(ctx, "book-b", "c1", sample(1))

	n, err := s.RemoveAllForBook(ctx, "book-a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "book-a-2", "c1"); !ok {
		t.Error("book-a-2 shares a key prefix but must survive")
	}
	if _, ok, _ := s.Get(ctx, "book-b", "c1"); !ok {
		t.Error("book-b must survive")
	}

	ids, err := s.Books(ctx)
	if err != nil || len(ids) != 2 {
		t.Errorf("unexpected books %v %v", ids, err)
	}
}

func TestSavePublishesEvent(t *testing.T) {
	s, _ := newTestStore()
	events, cancel := s.Notifier().Subscribe()
	defer cancel()

	if err := s.Save(context.Background(), "b1", "b1-chapter-1", sample(1)); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		if ev.BookID != "b1" || ev.ChapterID != "b1-chapter-1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestNotifierDropsForSlowSubscriber(t *testing.T) {
	n := NewNotifier()
	slow, cancelSlow := n.Subscribe()
	defer cancelSlow()

	for i := 0; i < subscriberBuffer+5; i++ {
		n.Publish(model.CollageEvent{BookID: "b"})
	}
	if len(slow) != subscriberBuffer {
		t.Errorf("expected a full buffer of %d, got %d", subscriberBuffer, len(slow))
	}

	// Late subscribers get no replay.
	late, cancelLate := n.Subscribe()
	if len(late) != 0 {
		t.Error("late subscriber should not see old events")
	}
	cancelLate()
	cancelLate()
	if _, open := <-late; open {
		t.Error("cancel should close the channel")
	}
}

func TestSaveRefusesUnknownBooks(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	known := map[string]bool{"b1": true}
	s.SetOwner(func(id string) bool { return known[id] })

	if err := s.Save(ctx, "b1", "c1", sample(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "ghost", "c1", sample(1)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown book should be refused, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ghost", "c1"); ok {
		t.Error("refused collage must not be stored")
	}
}
