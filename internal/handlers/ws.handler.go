package handlers

import (
	"net/url"
	"strings"

	"github.com/fasthttp/router"
	"github.com/fasthttp/websocket"
	"github.com/relaysms/contact-gateway/internal/auth"
	"github.com/relaysms/contact-gateway/internal/realtime"
	xhttp "github.com/relaysms/contact-gateway/pkg/http"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

// WSHandler upgrades authenticated clients onto the realtime hub.
type WSHandler struct {
	hub            *realtime.Hub
	authorizer     Authorizer
	allowedOrigins []string
	upgrader       websocket.FastHTTPUpgrader
}

func RegisterWSRoutes(e *router.Group, h *WSHandler) {
	e.GET("/ws", h.Connect)
}

func NewWSHandler(hub *realtime.Hub, authorizer Authorizer, allowedOrigins []string) *WSHandler {
	h := &WSHandler{
		hub:            hub,
		authorizer:     authorizer,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin header),
// same-origin requests, and origins on the configured allowlist. The
// bearer token alone is not enough: a hostile page could attach a
// token leaked into a URL.
func (h *WSHandler) checkOrigin(ctx *xhttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, string(ctx.Request.Header.Host())) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Connect authenticates the handshake, then hands the connection to
// the hub's read/write pumps. The token travels either in the
// Authorization header or in a `token` query parameter.
func (h *WSHandler) Connect(ctx *xhttp.RequestCtx) {
	token, ok := auth.FromHeader(string(ctx.Request.Header.Peek("Authorization")))
	if !ok {
		token = string(ctx.QueryArgs().Peek("token"))
	}
	if token == "" {
		writeError(ctx, xhttp.StatusUnauthorized, "missing bearer token")
		return
	}

	claims, err := h.authorizer.Verify(token)
	if err != nil {
		writeError(ctx, xhttp.StatusUnauthorized, "invalid token")
		return
	}

	err = h.upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		conn := realtime.NewConn(h.hub, ws, claims.UserID)
		logger.Debug("websocket connected", "user_id", claims.UserID)
		conn.Run()
		logger.Debug("websocket disconnected", "user_id", claims.UserID)
	})
	if err != nil {
		logger.Warn("websocket upgrade failed", "user_id", claims.UserID, "error", err)
	}
}
