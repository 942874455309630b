package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSHandler streams task.update events to an owner's connected clients.
type WSHandler struct {
	hub      *notify.Hub
	identity IdentityResolver
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *notify.Hub, identity IdentityResolver, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	if identity == nil {
		identity = HeaderIdentityResolver{}
	}
	return &WSHandler{
		hub:      hub,
		identity: identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement belongs to the fronting gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("component", "ws_handler")),
	}
}

// Subscribe handles GET /api/tasks/ws: upgrade, subscribe the owner's
// channel, and pump events until either side goes away.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	identity, err := h.identity.Resolve(r)
	if err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "owner_id", identity.UserID, "error", err)
		return
	}

	sub := h.hub.Subscribe(identity.UserID)
	defer h.hub.Unsubscribe(sub)
	defer conn.Close()

	log.Info("websocket subscribed", "owner_id", identity.UserID)

	// Reader goroutine: discard client frames, surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Info("websocket closed by client", "owner_id", identity.UserID)
			return
		case event, ok := <-sub.C:
			if !ok {
				// Hub shut down.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn("websocket write failed", "owner_id", identity.UserID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
