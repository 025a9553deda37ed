package gateway

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/xela07ax/mission-control/internal/domain"
)

// Разделители разрядов как в дашборде: 12,345
var tokenPrinter = message.NewPrinter(language.English)

// Пороги активности по возрасту сессии
const (
	busyWindow   = 10 * time.Second
	activeWindow = 30 * time.Second
	idleWindow   = 5 * time.Minute
)

// ComputeStatus выводит статус агента из данных сессии шлюза.
func ComputeStatus(s domain.GatewaySession) domain.AgentStatus {
	if s.AbortedLastRun || slices.Contains(s.Flags, "aborted") {
		return domain.StatusError
	}
	age := time.Duration(s.Age) * time.Millisecond
	switch {
	case age < activeWindow:
		if age < busyWindow && s.OutputTokens > 0 {
			return domain.StatusBusy
		}
		return domain.StatusOnline
	case age < idleWindow:
		return domain.StatusOnline // Простаивает, но на связи
	}
	return domain.StatusOffline
}

// AgentName: "backend-dev" -> "Backend Dev Agent".
func AgentName(agentID string) string {
	parts := strings.Split(agentID, "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ") + " Agent"
}

// TaskDescription — текущая задача, насколько её можно понять по токенам. Пусто — задачи нет.
func TaskDescription(s domain.GatewaySession) string {
	age := time.Duration(s.Age) * time.Millisecond
	if age < busyWindow && s.OutputTokens > 0 {
		return fmt.Sprintf("Processing (%d tokens output)", s.OutputTokens)
	}
	if s.PercentUsed > 0 {
		return fmt.Sprintf("Context: %s%% used (%s tokens)",
			strconv.FormatFloat(s.PercentUsed, 'f', -1, 64), tokenPrinter.Sprintf("%d", s.TotalTokens))
	}
	return ""
}

// Transform переводит сессию шлюза в агента дашборда относительно момента now.
func Transform(s domain.GatewaySession, now time.Time) domain.Agent {
	updated := time.UnixMilli(s.UpdatedAt).UTC()
	agent := domain.Agent{
		ID:            s.Key,
		Name:          AgentName(s.AgentID),
		SessionID:     s.SessionID,
		Status:        ComputeStatus(s),
		LastActivity:  updated,
		StartedAt:     updated, // Время создания сессии шлюз не отдаёт
		UptimeSeconds: s.Age / 1000,
		Metadata: domain.AgentMetadata{
			AgentID:         s.AgentID,
			Kind:            s.Kind,
			Model:           s.Model,
			TotalTokens:     s.TotalTokens,
			RemainingTokens: s.RemainingTokens,
			PercentUsed:     s.PercentUsed,
			ContextTokens:   s.ContextTokens,
			Flags:           s.Flags,
			AbortedLastRun:  s.AbortedLastRun,
		},
	}
	if task := TaskDescription(s); task != "" {
		started := now.Add(-time.Duration(s.Age) * time.Millisecond).UTC()
		agent.CurrentTask = &task
		agent.TaskStartedAt = &started
	}
	return agent
}

func TransformAll(sessions []domain.GatewaySession, now time.Time) []domain.Agent {
	agents := make([]domain.Agent, 0, len(sessions))
	for _, s := range sessions {
		agents = append(agents, Transform(s, now))
	}
	return agents
}

// FindAgent ищет по id, session id или вхождению в имя без учёта регистра.
func FindAgent(agents []domain.Agent, id string) (domain.Agent, bool) {
	if id == "" {
		return domain.Agent{}, false
	}
	lower := strings.ToLower(id)
	for _, a := range agents {
		if a.ID == id || a.SessionID == id || strings.Contains(strings.ToLower(a.Name), lower) {
			return a, true
		}
	}
	return domain.Agent{}, false
}
