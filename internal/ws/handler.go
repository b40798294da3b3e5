package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsSession adapts a gorilla connection to the Session interface. Gorilla
// connections do not allow concurrent writers, so every send goes through the
// session's own mutex.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

func (s *wsSession) Close() error {
	return s.conn.Close()
}

// Handler upgrades HTTP requests to WebSocket sessions and runs the echo loop.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler whose origin check accepts the given
// origins. An empty list allows every origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Serve handles GET /ws. It registers the connection with the hub and then
// echoes every received message back wrapped in an echo envelope. Any read or
// write error ends the session.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	sess := &wsSession{conn: conn}
	h.hub.Register(sess)
	log.Printf("ws: client connected, total connections: %d", h.hub.Count())

	defer func() {
		h.hub.Unregister(sess)
		conn.Close()
		log.Printf("ws: client disconnected, total connections: %d", h.hub.Count())
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg any
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Not JSON; echo the raw text back.
			msg = string(raw)
		}

		if err := sess.Send(Envelope{Type: TypeEcho, Data: msg, Timestamp: time.Now()}); err != nil {
			return
		}
	}
}
