package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaychat/relaychat/pkg/protocol"
)

// Handler terminates the websocket protocol: token handshake, upgrade and
// client lifecycle. It also serves the health endpoint.
type Handler struct {
	hub      *Hub
	secret   string
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. With an empty allowOrigins every origin is
// accepted (development); otherwise the Origin header must match one entry.
func NewHandler(hub *Hub, secret string, allowOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		secret: secret,
		log:    logger.Named("handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Router returns the relay's HTTP mux.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/health", h.Health)
	return mux
}

// ServeWS authenticates the token query parameter, upgrades the connection
// and runs the client until it disconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := ValidateToken(token, h.secret)
	if err != nil {
		h.log.Warn("authentication failed", zap.Error(err))
		http.Error(w, "invalid authentication token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, claims.Username, h.log)
	h.hub.Register(client)

	// Connection confirmation before any routed event.
	if frame, err := EncodeEvent(protocol.EventConnected, map[string]any{
		"user_id":  client.UserID,
		"username": client.Username,
	}); err == nil {
		client.enqueue(frame)
	}

	go client.Run()
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"service":   "relaychat",
		"clients":   h.hub.ClientCount(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
