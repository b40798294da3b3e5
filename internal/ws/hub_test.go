package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeSession records every envelope it receives and can be made to fail.
type fakeSession struct {
	mu       sync.Mutex
	received []Envelope
	sendErr  error
	closed   bool
}

func (f *fakeSession) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, env)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestHub_BroadcastDeliversToAll(t *testing.T) {
	hub := NewHub()
	a, b := &fakeSession{}, &fakeSession{}
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(Envelope{Type: TypeTestResult, Data: "x", Timestamp: time.Now()})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 2, hub.Count())
}

func TestHub_BroadcastIsolatesFailures(t *testing.T) {
	hub := NewHub()
	healthy1 := &fakeSession{}
	failing := &fakeSession{sendErr: errors.New("connection reset")}
	healthy2 := &fakeSession{}
	hub.Register(healthy1)
	hub.Register(failing)
	hub.Register(healthy2)

	hub.Broadcast(Envelope{Type: TypePcbaEvent, Data: "y", Timestamp: time.Now()})

	// The two healthy sessions still received the message.
	assert.Equal(t, 1, healthy1.count())
	assert.Equal(t, 1, healthy2.count())

	// The failing session was pruned and closed.
	assert.Equal(t, 2, hub.Count())
	assert.True(t, failing.closed)

	// A second broadcast only reaches the survivors.
	hub.Broadcast(Envelope{Type: TypePcbaEvent, Data: "z", Timestamp: time.Now()})
	assert.Equal(t, 2, healthy1.count())
	assert.Equal(t, 2, healthy2.count())
	assert.Equal(t, 0, failing.count())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	s := &fakeSession{}
	hub.Register(s)

	hub.Unregister(s)
	hub.Unregister(s)

	assert.Equal(t, 0, hub.Count())
}

// Concurrent producers and connection churn must not corrupt the live set.
func TestHub_ConcurrentBroadcastAndChurn(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Broadcast(Envelope{Type: TypeSystemStatus, Data: j, Timestamp: time.Now()})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := &fakeSession{}
				hub.Register(s)
				hub.Unregister(s)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Count())
}
