package realtime

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
)

// Connection timing defaults.
const (
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	maxIncomingBytes  = 4096
	pingPeriodDivisor = 10
)

// HandlerConfig tunes the upgrade handler.
type HandlerConfig struct {
	WriteWait time.Duration
	PongWait  time.Duration
	// AllowedOrigins are extra origins accepted besides browser extensions and localhost.
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to WebSocket connections and registers them.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandler wires the registry into an upgrade handler.
func NewHandler(registry *Registry, cfg HandlerConfig, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	h := &Handler{registry: registry, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP implements http.Handler. It blocks for the connection's lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{ws: ws, writeWait: h.cfg.WriteWait}
	id, err := h.registry.Register(conn)
	if err != nil {
		h.logger.Warn("register connection failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	defer h.registry.Unregister(id)

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(ws, done)

	ws.SetReadLimit(maxIncomingBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("connection read failed", zap.String("client_id", id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * (pingPeriodDivisor - 1) / pingPeriodDivisor)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "chrome-extension", "moz-extension":
		return true
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return strings.EqualFold(u.Host, r.Host)
}

// wsConn adapts a gorilla connection to Conn with a write deadline per message.
type wsConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
}

func (c *wsConn) WriteJSON(v any) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(c.writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
