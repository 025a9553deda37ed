// Package stream — рассылка событий подписчикам по websocket: реестр соединений,
// проверка токена при рукопожатии, ping/pong и межинстансовый ретранслятор через Redis.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
)

var ErrHubClosed = errors.New("stream hub is shut down")

type Config struct {
	PingInterval      time.Duration // Проверка живости, ping на каждом тике
	HeartbeatInterval time.Duration // Прикладной heartbeat-кадр; 0 — выключен
	WriteTimeout      time.Duration
	SendBuffer        int // Очередь кадров на одно соединение
	MaxMessageSize    int64
	AllowedOrigins    []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        256,
		MaxMessageSize:    64 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Hub — реестр открытых соединений. Меняется только через Register/Unregister.
type Hub struct {
	cfg     Config
	metrics *infra.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // user id -> мультимножество соединений
	count   int
	closed  bool
	empty   chan struct{} // Закрывается, когда после Shutdown ушёл последний клиент
}

func NewHub(cfg Config, metrics *infra.Metrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  logger.Named("stream_hub"),
		now:     time.Now,
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	if _, dup := set[c]; dup {
		return nil
	}
	set[c] = struct{}{}
	h.count++
	c.setState(StateOpen)
	h.metrics.StreamConnections.Set(float64(h.count))

	h.logger.Info("websocket client connected",
		zap.String("user_id", c.UserID),
		zap.String("username", c.Username),
		zap.String("role", string(c.Role)),
		zap.Int("total_connections", h.count),
	)
	return nil
}

// Unregister убирает соединение из реестра. Повторный вызов безопасен.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			h.count--
			if len(set) == 0 {
				delete(h.clients, c.UserID)
			}
		} else {
			ok = false
		}
	}
	total := h.count
	if h.closed && total == 0 && h.empty != nil {
		select {
		case <-h.empty:
		default:
			close(h.empty)
		}
	}
	h.metrics.StreamConnections.Set(float64(total))
	h.mu.Unlock()

	c.setState(StateClosed)
	if ok {
		h.logger.Info("websocket client disconnected", zap.String("user_id", c.UserID), zap.Int("total_connections", total))
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) CountForUser(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Users — отсортированный список пользователей с хотя бы одним соединением.
func (h *Hub) Users() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for id := range h.clients {
		users = append(users, id)
	}
	h.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (h *Hub) snapshot(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if userID != "" {
		out := make([]*Client, 0, len(h.clients[userID]))
		for c := range h.clients[userID] {
			out = append(out, c)
		}
		return out
	}
	out := make([]*Client, 0, h.count)
	for _, set := range h.clients {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast рассылает кадр всем открытым соединениям и возвращает число поставленных в очередь.
func (h *Hub) Broadcast(msg Message) int {
	return h.deliver("", msg)
}

// SendToUser — то же, но только соединениям одного пользователя.
func (h *Hub) SendToUser(userID string, msg Message) int {
	if userID == "" {
		return 0
	}
	return h.deliver(userID, msg)
}

func (h *Hub) deliver(userID string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode stream message", zap.String("type", string(msg.Type)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, c := range h.snapshot(userID) {
		if c.enqueue(data) {
			delivered++
			continue
		}
		if c.State() == StateOpen {
			h.metrics.StreamDroppedFrames.Inc()
			h.logger.Warn("subscriber queue full, frame dropped", zap.String("user_id", c.UserID), zap.String("type", string(msg.Type)))
		}
	}
	if delivered > 0 {
		h.metrics.StreamDeliveries.WithLabelValues(string(msg.Type)).Add(float64(delivered))
	}
	return delivered
}

// BroadcastEntry реализует audit.Broadcaster.
func (h *Hub) BroadcastEntry(e audit.Entry) {
	h.Broadcast(Message{Type: TypeAuditNew, Payload: AuditPayload{Entry: e, Timestamp: h.now().UnixMilli()}})
}

func (h *Hub) BroadcastAgentStatus(agentID string, status domain.AgentStatus) {
	h.logger.Debug("broadcasting agent status", zap.String("agent_id", agentID), zap.String("status", string(status)))
	h.Broadcast(Message{Type: TypeAgentStatus, Payload: AgentStatusPayload{
		AgentID:   agentID,
		Status:    status,
		Timestamp: h.now().UnixMilli(),
	}})
}

func (h *Hub) BroadcastSessionActivity(agentID, sessionID, lastMessage string) {
	h.logger.Debug("broadcasting session activity", zap.String("agent_id", agentID), zap.String("session_id", sessionID))
	h.Broadcast(Message{Type: TypeSessionActivity, Payload: SessionActivityPayload{
		AgentID:     agentID,
		SessionID:   sessionID,
		LastMessage: lastMessage,
		Timestamp:   h.now().UnixMilli(),
	}})
}

func (h *Hub) SendHeartbeat() int {
	return h.Broadcast(Message{Type: TypeHeartbeat, Payload: HeartbeatPayload{Timestamp: h.now().UnixMilli()}})
}

// Run шлёт прикладной heartbeat, пока не отменят ctx.
func (h *Hub) Run(ctx context.Context) {
	if h.cfg.HeartbeatInterval == 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SendHeartbeat()
		}
	}
}

// Shutdown закрывает все соединения кодом 1001 и ждёт, пока реестр опустеет.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.empty = make(chan struct{})
	if h.count == 0 {
		close(h.empty)
	}
	empty := h.empty
	h.mu.Unlock()

	clients := h.snapshot("")
	h.logger.Info("closing websocket connections", zap.Int("count", len(clients)))
	for _, c := range clients {
		c.close(CloseGoingAway, "Server shutting down")
	}

	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
