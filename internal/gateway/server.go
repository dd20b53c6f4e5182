package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no identity required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.Handler())

	// Notification WebSocket — identity checked by the hub itself.
	if g.wsHandler != nil {
		r.Handle("/ws", g.wsHandler)
	}

	// Chat coordination — caller identity required.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Post("/chat/join/{collectionID}", g.handleJoin())
		r.Get("/chat/room-id", g.handleRoomID())
		r.Get("/chat/{roomID}", g.handleGetSession())
		r.Put("/chat/{roomID}", g.handlePutMessage())
		r.Post("/chat/{roomID}/reports", g.handlePostReport())
	})

	// Admin endpoints — auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			r.Get("/status", g.handleStatus())
			r.Delete("/chat/all", g.handlePurgeAll())
		})
	}

	return r
}
