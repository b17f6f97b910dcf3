package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventBuffer    = 32
	eventPingEvery = 30 * time.Second
	eventWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams bus events to a websocket client as JSON text
// frames until either side goes away. Clients refresh their diary view
// on "refresh" and diary events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event feed not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(eventBuffer)
	defer s.bus.Unsubscribe(sub)
	s.logger.Debug("event feed client connected", "remote", r.RemoteAddr)

	// Inbound frames are ignored; reading is only how a close is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event feed read error", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event feed write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				s.logger.Debug("event feed ping failed", "error", err)
				return
			}
		}
	}
}
