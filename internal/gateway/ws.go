package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback-only surface; browsers never talk to it cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// eventFrame is the wire form of one bus event.
type eventFrame struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// handleEvents streams bus events to the client as JSON frames. The optional
// prefix query parameter narrows the subscription ("chat.", "call.", ...).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	s.logger.Info("event stream opened", zap.String("prefix", prefix))

	// Reader goroutine: the client sends nothing meaningful, but reads are
	// needed to process close frames and detect a dead peer.
	done := make(chan struct{})
	go func() {
		defer close(done)
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
		case <-r.Context().Done():
			return
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame := eventFrame{
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp.UnixMilli(),
				Payload:   evt.Payload,
			}
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
