package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufSize    = 16
)

// Streamer upgrades authenticated requests to a websocket carrying the
// player's unlock events. Clients only listen; anything they send is discarded.
type Streamer struct {
	Hub      *Hub
	Log      *zap.Logger
	Upgrader websocket.Upgrader
}

// NewStreamer creates a streamer. checkOrigin may be nil to allow any origin.
func NewStreamer(hub *Hub, log *zap.Logger, checkOrigin func(r *http.Request) bool) *Streamer {
	if log == nil {
		log = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Streamer{
		Hub: hub,
		Log: log,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Serve upgrades the connection and streams userID's events until either
// side closes.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, userID achievement.UserID) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id, events := s.Hub.Subscribe(userID, sendBufSize)
	log := s.Log.With(zap.Int64("user_id", int64(userID)), zap.Int("subscription", id))
	log.Debug("realtime subscriber connected")

	done := make(chan struct{})
	go s.readPump(conn, done, log)
	s.writePump(conn, events, done)

	s.Hub.Unsubscribe(userID, id)
	log.Debug("realtime subscriber disconnected")
}

// readPump handles pongs and close frames. It closes done when the peer goes away.
func (s *Streamer) readPump(conn *websocket.Conn, done chan<- struct{}, log *zap.Logger) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Streamer) writePump(conn *websocket.Conn, events <-chan Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, MarshalJSON(ev)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
