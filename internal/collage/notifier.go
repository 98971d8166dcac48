package collage

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
)

const subscriberBuffer = 16

// Notifier fans collage change events out to subscribers. Events are not
// replayed, and a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan model.CollageEvent
}

func NewNotifier() *Notifier {
	return &Notifier{subs: map[int]chan model.CollageEvent{}}
}

// Subscribe returns the event channel and a function that closes it.
func (n *Notifier) Subscribe() (<-chan model.CollageEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan model.CollageEvent, subscriberBuffer)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			close(ch)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Publish(ev model.CollageEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			log.Debug("Dropping collage event for slow subscriber",
				zap.Int("subscriber", id), zap.String("book_id", ev.BookID))
		}
	}
}
