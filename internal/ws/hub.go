package ws

import (
	"log"
	"sync"
	"time"
)

// Envelope wraps every message pushed over the dashboard channel.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope types understood by the dashboards.
const (
	TypeTestResult   = "test_result"
	TypePcbaEvent    = "pcba_event"
	TypeSystemStatus = "system_status"
	TypeEcho         = "echo"
)

// Broadcaster is the producer-side view of the hub. HTTP handlers, the event
// relay and the cloud sync job all publish through it.
type Broadcaster interface {
	Broadcast(env Envelope)
}

// Session is one live push-channel connection. Send must be safe to call from
// multiple goroutines.
type Session interface {
	Send(env Envelope) error
	Close() error
}

// Hub is the registry of live dashboard connections. Register, Unregister and
// Broadcast may all be called concurrently.
type Hub struct {
	mu       sync.RWMutex
	sessions map[Session]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[Session]struct{})}
}

// Register adds a session to the live set.
func (h *Hub) Register(s Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a session from the live set. Removing a session that is
// already gone is a no-op.
func (h *Hub) Unregister(s Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast delivers the envelope to every live session. Delivery to each
// session is independent: a failed send never aborts delivery to the others.
// Failed sessions are pruned in a separate pass once the delivery loop has
// finished, so the live set is never mutated while it is being iterated.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	targets := make([]Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var dead []Session
	for _, s := range targets {
		if err := s.Send(env); err != nil {
			log.Printf("ws: dropping connection after send error: %v", err)
			dead = append(dead, s)
		}
	}

	for _, s := range dead {
		h.Unregister(s)
		s.Close()
	}
}
