package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"prodtest-backend/internal/notification"
	"prodtest-backend/internal/relay"
	"prodtest-backend/internal/store"
	"prodtest-backend/internal/ws"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store        store.Store
	hub          ws.Broadcaster
	relay        *relay.Relay
	runner       relay.StageRunner
	pool         *notification.WorkerPool
	webpush      *webpush.Options
	cloudEnabled bool
}

// NewHandler creates a new API handler. runner and pool may be nil when the
// corresponding feature is not configured.
func NewHandler(s store.Store, hub ws.Broadcaster, r *relay.Relay, runner relay.StageRunner, pool *notification.WorkerPool, webpushOptions *webpush.Options, cloudEnabled bool) *Handler {
	return &Handler{
		store:        s,
		hub:          hub,
		relay:        r,
		runner:       runner,
		pool:         pool,
		webpush:      webpushOptions,
		cloudEnabled: cloudEnabled,
	}
}
