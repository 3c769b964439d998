// Package handlers exposes the websocket entry point and the read-only
// HTTP API over the platform's services.
package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/natefell/quizarena/internal/auth"
	"github.com/natefell/quizarena/internal/connection"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/match"
	"github.com/natefell/quizarena/internal/matchmaking"
	"github.com/natefell/quizarena/internal/repository"
)

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Log       logger.Logger
	Registry  *connection.Registry
	Queue     *matchmaking.Queue
	Manager   *match.Manager
	Stats     repository.StatisticsStore
	Validator auth.Validator
	Gateway   *Gateway

	upgrader websocket.Upgrader
	health   func() error
}

// New creates a Handlers instance with all dependencies. The health probe
// may be nil.
func New(
	log logger.Logger,
	registry *connection.Registry,
	queue *matchmaking.Queue,
	manager *match.Manager,
	stats repository.StatisticsStore,
	validator auth.Validator,
	gateway *Gateway,
	health func() error,
) *Handlers {
	return &Handlers{
		Log:       log,
		Registry:  registry,
		Queue:     queue,
		Manager:   manager,
		Stats:     stats,
		Validator: validator,
		Gateway:   gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins; the token is
			// the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		health: health,
	}
}

// handleWS validates the connection token and upgrades to a websocket.
// Validation happens before the upgrade so rejects are plain HTTP 401s.
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing connection token")
		return
	}

	identity, err := h.Validator.Validate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid connection token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.Log.Debug("WebSocket upgrade failed", "identity", identity.ID, "error", err)
		return
	}

	client := connection.NewClient(h.Registry, conn, identity.ID, identity.DisplayName, h.Gateway)
	h.Registry.Register(client)
	client.Start()
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
