package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
)

// State — фаза жизни подписчика.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client — одно websocket-соединение. Личность фиксируется при рукопожатии и больше не перепроверяется.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	state       atomic.Int32
	alive       atomic.Bool // Сбрасывается перед каждым ping, выставляется pong-ом
	logger      *zap.Logger
	connectedAt time.Time

	UserID   string
	Username string
	Role     domain.Role
}

func newClient(h *Hub) *Client {
	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.alive.Store(true)
	c.logger = h.logger.With(zap.String("conn_id", c.id))
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// enqueue кладёт кадр в очередь клиента. Полная очередь — кадр отбрасывается, остальные подписчики не ждут.
func (c *Client) enqueue(data []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close отправляет close-кадр и рвёт соединение. Повторные вызовы ничего не делают.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		if c.conn != nil {
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			// WriteControl безопасен параллельно с writePump
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = c.conn.Close()
		}
		close(c.done)
	})
}

// terminate рвёт соединение без close-рукопожатия (пропущенный pong).
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.done)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				c.terminate()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.terminate()
				return
			}
		case <-ticker.C:
			// Не ответил на прошлый ping — считаем мёртвым
			if !c.alive.Swap(false) {
				c.logger.Info("websocket liveness check failed, terminating", zap.String("user_id", c.UserID))
				c.terminate()
				return
			}
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.terminate()
				return
			}
		}
	}
}

// readPump держит чтение живым (pong, close) и выбрасывает клиентские кадры: сервер от них не зависит.
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	// Дедлайн от http.Server (ReadTimeout) переживает hijack, живость проверяет ping
	_ = c.conn.SetReadDeadline(time.Time{})
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			c.terminate()
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			c.logger.Warn("invalid websocket message", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}
		c.logger.Debug("websocket message received", zap.String("user_id", c.UserID), zap.String("type", head.Type))
	}
}
