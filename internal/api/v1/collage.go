package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/http/response"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

func (h *Handler) getCollage(w http.ResponseWriter, r *http.Request) {
	book, chapter, ok := h.bookAndChapter(w, r)
	if !ok {
		return
	}
	c, found, err := h.collages.Get(r.Context(), book.ID, chapter.ChapterID())
	if err != nil {
		response.ServerError(w, r, err)
		return
	}
	if !found {
		c = chapter.EmbeddedCollage()
	}
	if c == nil {
		c = &model.Collage{Items: []model.StickerItem{}}
	}
	response.OK(w, r, c)
}

func (h *Handler) putCollage(w http.ResponseWriter, r *http.Request) {
	book, chapter, ok := h.bookAndChapter(w, r)
	if !ok {
		return
	}
	var c model.Collage
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		response.BadRequest(w, r, err)
		return
	}
	if c.ID == "" {
		c.ID = model.NewCollageID()
	}
	if err := h.collages.Save(r.Context(), book.ID, chapter.ChapterID(), &c); err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, c)
}

func (h *Handler) deleteCollage(w http.ResponseWriter, r *http.Request) {
	book, chapter, ok := h.bookAndChapter(w, r)
	if !ok {
		return
	}
	if err := h.collages.Remove(r.Context(), book.ID, chapter.ChapterID()); err != nil {
		response.ServerError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// collageEvents streams every collage save to the client until it disconnects.
func (h *Handler) collageEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", zap.String("client_ip", request.ClientIP(r)), zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.collages.Notifier().Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Collage event stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
