package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/canvas"
	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
)

const confirmTimeout = 30 * time.Second

// studioMessage is sent by the client. Type selects which fields are read.
type studioMessage struct {
	Type      string       `json:"type"`
	BookID    string       `json:"book_id,omitempty"`
	ChapterID string       `json:"chapter_id,omitempty"`
	Emoji     string       `json:"emoji,omitempty"`
	ID        string       `json:"id,omitempty"`
	X         float64      `json:"x,omitempty"`
	Y         float64      `json:"y,omitempty"`
	Key       string       `json:"key,omitempty"`
	Bounds    *canvas.Rect `json:"bounds,omitempty"`
	Answer    bool         `json:"answer,omitempty"`
}

// studioEvent is pushed to the client.
type studioEvent struct {
	Type      string              `json:"type"`
	BookID    string              `json:"book_id,omitempty"`
	ChapterID string              `json:"chapter_id,omitempty"`
	Items     []model.StickerItem `json:"items,omitempty"`
	Selected  string              `json:"selected,omitempty"`
	Saving    *bool               `json:"saving,omitempty"`
	Prompt    string              `json:"prompt,omitempty"`
	Error     string              `json:"error,omitempty"`
	Image     string              `json:"image,omitempty"`
	Text      string              `json:"text,omitempty"`
}

// studioConn adapts one websocket to one canvas session.
type studioConn struct {
	conn    *websocket.Conn
	session *canvas.Session

	writeMu sync.Mutex
	answers chan bool
	closed  chan struct{}
}

func (c *studioConn) send(ev studioEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		log.Debug("Studio write failed", zap.Error(err))
	}
}

func (c *studioConn) sendError(err error) {
	c.send(studioEvent{Type: "error", Error: err.Error()})
}

func (c *studioConn) pushState() {
	ev := studioEvent{Type: "state", Items: c.session.Items(), Selected: c.session.Selected()}
	ev.BookID, ev.ChapterID, _ = c.session.Chapter()
	if ev.Items == nil {
		ev.Items = []model.StickerItem{}
	}
	c.send(ev)
}

// Confirm asks the client and waits for its answer. No answer means no.
func (c *studioConn) Confirm(prompt string) bool {
	// Drop a stale answer left by an earlier prompt.
	select {
	case <-c.answers:
	default:
	}
	c.send(studioEvent{Type: "confirm", Prompt: prompt})
	select {
	case answer := <-c.answers:
		return answer
	case <-c.closed:
		return false
	case <-time.After(confirmTimeout):
		return false
	}
}

func (h *Handler) studioSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", zap.String("client_ip", request.ClientIP(r)), zap.Error(err))
		return
	}
	defer conn.Close()

	sc := &studioConn{
		conn:    conn,
		answers: make(chan bool, 1),
		closed:  make(chan struct{}),
	}
	opts := h.studio
	opts.Confirmer = sc
	opts.OnChange = sc.pushState
	opts.OnSaving = func(saving bool) {
		sc.send(studioEvent{Type: "saving", Saving: &saving})
	}
	opts.OnError = sc.sendError
	sc.session = canvas.NewSession(h.collages, h.pages, h.library.Source, opts)
	defer func() {
		close(sc.closed)
		sc.session.Close()
	}()

	log.Debug("Studio session opened", zap.String("client_ip", request.ClientIP(r)))
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("Studio session closed", zap.Error(err))
			return
		}
		var msg studioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sc.sendError(errors.Wrap(err, "malformed message"))
			continue
		}
		if msg.Type == "confirm" {
			select {
			case sc.answers <- msg.Answer:
			default:
			}
			continue
		}
		if err := h.studioDispatch(ctx, sc, msg); err != nil {
			sc.sendError(err)
		}
	}
}

func (h *Handler) studioDispatch(ctx context.Context, sc *studioConn, msg studioMessage) error {
	s := sc.session
	switch msg.Type {
	case "open":
		book, ok := h.library.Book(msg.BookID)
		if !ok {
			return errors.Wrapf(model.ErrNotFound, "book %s", msg.BookID)
		}
		if err := s.Open(ctx, book, msg.ChapterID); err != nil {
			return err
		}
		go h.studioBackground(ctx, sc)
	case "add":
		_, err := s.Add(msg.Emoji)
		return err
	case "down":
		return s.PointerDown(msg.ID, canvas.Point{X: msg.X, Y: msg.Y})
	case "move":
		s.PointerMove(canvas.Point{X: msg.X, Y: msg.Y})
	case "up":
		s.PointerUp()
	case "click":
		s.ClickCanvas()
	case "key":
		s.KeyDown(msg.Key)
	case "bounds":
		if msg.Bounds == nil {
			return errors.Wrap(model.ErrInvalidInput, "bounds are required")
		}
		s.SetBounds(*msg.Bounds)
	case "delete":
		if !s.Delete(msg.ID) {
			return errors.Wrapf(model.ErrNotFound, "sticker %s", msg.ID)
		}
	default:
		return errors.Wrapf(model.ErrInvalidInput, "unknown message type %q", msg.Type)
	}
	return nil
}

// studioBackground pushes the page image or text of the opened chapter.
func (h *Handler) studioBackground(ctx context.Context, sc *studioConn) {
	bg, err := sc.session.Background(ctx)
	if err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) {
			sc.send(studioEvent{Type: "background", Error: nf.Hint()})
			return
		}
		sc.sendError(err)
		return
	}
	if !sc.session.Current(bg) {
		log.Debug("Dropping background of a closed chapter",
			zap.String("book_id", bg.BookID), zap.String("chapter_id", bg.ChapterID))
		return
	}
	ev := studioEvent{Type: "background", BookID: bg.BookID, ChapterID: bg.ChapterID, Text: bg.Text}
	if bg.Image != nil {
		ev.Image = bg.Image.DataURL()
	}
	sc.send(ev)
}
