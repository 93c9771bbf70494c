package handler

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Attacher takes over a connected byte stream as a game client
type Attacher interface {
	Attach(nc net.Conn, ip string) <-chan struct{}
}

// WebSocketHandler carries the framed game protocol over binary websocket
// messages, for clients that cannot open raw TCP connections
type WebSocketHandler struct {
	attacher  Attacher
	readLimit int64
	logger    *slog.Logger
}

// NewWebSocketHandler creates a new websocket handler. readLimit bounds a
// single websocket message.
func NewWebSocketHandler(attacher Attacher, readLimit int64, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		attacher:  attacher,
		readLimit: readLimit,
		logger:    logger.With(slog.String("component", "websocket")),
	}
}

// Serve handles GET /ws
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	if h.readLimit > 0 {
		c.SetReadLimit(h.readLimit)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	nc := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
	done := h.attacher.Attach(nc, ip)

	select {
	case <-done:
	case <-r.Context().Done():
		_ = nc.Close()
		<-done
	}
	h.logger.Debug("websocket client finished", slog.String("ip", ip))
}
