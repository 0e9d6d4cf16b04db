package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Watch handles GET /watch/{id}. It upgrades to a WebSocket and pushes the
// status view after every committed change, closing after the terminal view.
func (s *Server) Watch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "request_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only exists to process control frames and notice a
	// closed client.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		// Take the change channel before reading so no commit is missed.
		changed, err := s.store.Changed(id)
		if err != nil {
			s.closeWatch(conn, websocket.CloseGoingAway, "session evicted")
			return
		}
		rec, err := s.store.Get(id)
		if err != nil {
			s.closeWatch(conn, websocket.CloseGoingAway, "session evicted")
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(rec.View()); err != nil {
			s.logger.Debug("websocket write failed", "request_id", id, "error", err)
			return
		}
		if rec.PipelineStatus.Terminal() {
			s.closeWatch(conn, websocket.CloseNormalClosure, string(rec.PipelineStatus))
			return
		}

	wait:
		for {
			select {
			case <-changed:
				break wait
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				s.logger.Debug("watch client gone", "request_id", id)
				return
			}
		}
	}
}

func (s *Server) closeWatch(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("websocket close failed", "error", err)
	}
}
