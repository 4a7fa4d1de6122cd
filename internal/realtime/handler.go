package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/modelforge/internal/auth"
	"github.com/modelforge/internal/logging"
)

// Handler upgrades /ws requests and runs the connection pumps
type Handler struct {
	hub        *Hub
	sessions   Authenticator
	compute    ComputeRegistrar
	cookieName string
	cfg        ClientConfig
	upgrader   websocket.Upgrader
	logger     *logging.Logger
}

// NewHandler creates the websocket endpoint. An empty allowedOrigins keeps
// gorilla's same-origin check.
func NewHandler(hub *Hub, sessions Authenticator, compute ComputeRegistrar, cookieName string, allowedOrigins []string, cfg ClientConfig, logger *logging.Logger) *Handler {
	h := &Handler{
		hub:        hub,
		sessions:   sessions,
		compute:    compute,
		cookieName: cookieName,
		cfg:        cfg,
		logger:     logger.WithComponent("realtime-handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP binds the connection to the request's session when one is present,
// registers it with the hub and blocks until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var userID int64
	if token := auth.TokenFromRequest(r, h.cookieName); token != "" {
		sess, err := h.sessions.Verify(ctx, token)
		if err != nil {
			h.logger.WithError(err).Debug("connecting anonymously; session token rejected")
		} else {
			userID = sess.UserID
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade websocket")
		return
	}

	client := newClient(h.hub, conn, h.cfg, h.logger)
	if userID != 0 {
		client.bind(userID)
	}

	h.hub.Register(ctx, client)
	go client.writePump()
	client.readPump(ctx, h.sessions, h.compute)
}
