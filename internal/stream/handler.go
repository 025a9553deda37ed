package stream

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/infra/auth"
)

// Handler — HTTP-эндпоинт подписки. Токен проверяется до апгрейда:
// отказ виден клиенту как неудавшееся рукопожатие (401), а не как сообщение в канале.
type Handler struct {
	hub       *Hub
	validator auth.TokenValidator
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewHandler(hub *Hub, v auth.TokenValidator, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:       hub,
		validator: v,
		logger:    logger.Named("stream_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.hub.isClosed() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	c := newClient(h.hub)
	c.setState(StateAuthenticating)

	token := auth.TokenFromRequest(r)
	if token == "" {
		h.reject(w, r, c, "Authorization token required", nil)
		return
	}
	claims, err := h.validator.VerifyToken(token)
	if err != nil {
		h.reject(w, r, c, "Invalid or expired token", err)
		return
	}
	c.UserID = claims.UserID
	c.Username = claims.Username
	c.Role = claims.Role

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader сам ответил клиенту
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		c.setState(StateClosed)
		return
	}
	c.conn = conn
	c.connectedAt = h.hub.now()

	if err := h.hub.Register(c); err != nil {
		c.close(CloseGoingAway, "Server shutting down")
		c.setState(StateClosed)
		return
	}

	go c.writePump()
	c.readPump()
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, c *Client, reason string, err error) {
	c.setState(StateClosed)
	h.hub.metrics.StreamRejected.Inc()

	fields := []zap.Field{zap.String("reason", reason), zap.String("remote", r.RemoteAddr)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	h.logger.Warn("websocket connection rejected", fields...)

	http.Error(w, reason, http.StatusUnauthorized)
}

// checkOrigin: при пустом списке — same-origin (или без Origin для не-браузерных клиентов).
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := h.hub.cfg.AllowedOrigins
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(origin, a) {
			return true
		}
	}
	h.logger.Info("rejected websocket connection from disallowed origin", zap.String("origin", origin))
	return false
}
