package domain

import "time"

type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"  // Активность за последние 5 минут
	StatusBusy    AgentStatus = "busy"    // Прямо сейчас генерирует ответ
	StatusOffline AgentStatus = "offline" // Давно не было активности
	StatusError   AgentStatus = "error"   // Последний запуск прерван
)

// Agent — представление сессии шлюза для дашборда.
type Agent struct {
	ID            string      `json:"id"`   // Ключ сессии шлюза, "agent:main:msteams:..."
	Name          string      `json:"name"` // Человекочитаемое имя, "Backend Dev Agent"
	SessionID     string      `json:"session_id"`
	Status        AgentStatus `json:"status"`
	CurrentTask   *string     `json:"current_task"`
	TaskStartedAt *time.Time  `json:"task_started_at"`
	LastActivity  time.Time   `json:"last_activity"`
	StartedAt     time.Time   `json:"started_at"`
	UptimeSeconds int64       `json:"uptime_seconds"`

	Metadata AgentMetadata `json:"metadata"`
}

type AgentMetadata struct {
	AgentID         string   `json:"agentId"`
	Kind            string   `json:"kind,omitempty"`
	Model           string   `json:"model,omitempty"`
	TotalTokens     int64    `json:"totalTokens"`
	RemainingTokens int64    `json:"remainingTokens"`
	PercentUsed     float64  `json:"percentUsed"`
	ContextTokens   int64    `json:"contextTokens"`
	Flags           []string `json:"flags,omitempty"`
	AbortedLastRun  bool     `json:"abortedLastRun"`
}

// AgentList — ответ /api/agents, кэшируется целиком.
type AgentList struct {
	Agents    []Agent   `json:"agents"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMessageRequest — тело POST /api/agents/{id}/message.
type AgentMessageRequest struct {
	Message string `json:"message" validate:"required,max=10000"`
}

// AgentRestartRequest — тело POST /api/agents/{id}/restart, всё опционально.
type AgentRestartRequest struct {
	Interval string `json:"interval" validate:"omitempty,heartbeat_interval"`
}

// ControlResult — итог управляющей команды.
type ControlResult struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}
