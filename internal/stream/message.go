package stream

import (
	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
)

type MessageType string

const (
	TypeAuditNew        MessageType = "audit.new"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeAgentStatus     MessageType = "agent:status"
	TypeSessionActivity MessageType = "session:activity"
	TypeError           MessageType = "error"
)

// Коды закрытия websocket, которые видит клиент
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseUnauthorized = 4001
	CloseServerError  = 4500
)

// Message — кадр сервер → клиент. Payload всегда содержит timestamp (unix ms) момента отправки.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

type AuditPayload struct {
	Entry     audit.Entry `json:"entry"`
	Timestamp int64       `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type AgentStatusPayload struct {
	AgentID   string             `json:"agentId"`
	Status    domain.AgentStatus `json:"status"`
	Timestamp int64              `json:"timestamp"`
}

type SessionActivityPayload struct {
	AgentID     string `json:"agentId"`
	SessionID   string `json:"sessionId"`
	LastMessage string `json:"lastMessage"`
	Timestamp   int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
