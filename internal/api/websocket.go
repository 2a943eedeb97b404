package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SentientViewer/internal/events"
)

const (
	// replayCount is how many buffered events a new client receives first.
	replayCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards on other ports connect here; access is gated by basic auth.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEventsHandler streams viewer events to a WebSocket client: the recent
// buffer first, then every new event until either side closes.
func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	sub := events.Subscribe()
	remote := r.RemoteAddr
	s.log.Debug().Str("remote", remote).Msg("ws client connected")

	write := func(v interface{}) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for _, e := range events.RecentEvents(replayCount) {
		if err := write(e); err != nil {
			s.log.Debug().Err(err).Str("remote", remote).Msg("ws replay failed")
			events.Unsubscribe(sub)
			return
		}
	}

	// The reader only services pongs and notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
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
			events.Unsubscribe(sub)
			s.log.Debug().Str("remote", remote).Msg("ws client disconnected")
			return

		case e, ok := <-sub:
			if !ok {
				// closed by CloseAllSubscribers on shutdown
				return
			}
			if err := write(e); err != nil {
				s.log.Debug().Err(err).Str("remote", remote).Msg("ws write failed")
				events.Unsubscribe(sub)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				events.Unsubscribe(sub)
				return
			}
		}
	}
}
