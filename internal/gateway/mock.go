package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/mission-control/internal/domain"
)

// MockClient — шлюз для разработки и тестов без установленного CLI.
// Сессии генерируются относительно текущего времени, управляющие команды запоминаются.
type MockClient struct {
	now func() time.Time

	mu        sync.Mutex
	heartbeat map[string]string // agent id -> interval, "" — выключен
	messages  []MockMessage
	err       error // Если задано, все вызовы возвращают эту ошибку
}

type MockMessage struct {
	SessionID string
	Message   string
}

func NewMockClient() *MockClient {
	return &MockClient{now: time.Now, heartbeat: make(map[string]string)}
}

func (m *MockClient) Sessions(ctx context.Context) ([]domain.GatewaySession, error) {
	if err := m.fail(ctx); err != nil {
		return nil, err
	}
	now := m.now().UnixMilli()
	const model = "anthropic/claude-sonnet-4-5-20250929"

	session := func(agentID, key, sessionID, kind string, age, output, total int64, pct float64) domain.GatewaySession {
		return domain.GatewaySession{
			AgentID:         agentID,
			Key:             key,
			Kind:            kind,
			SessionID:       sessionID,
			UpdatedAt:       now - age,
			Age:             age,
			OutputTokens:    output,
			TotalTokens:     total,
			RemainingTokens: 200000 - total,
			PercentUsed:     pct,
			Model:           model,
			ContextTokens:   200000,
		}
	}

	errored := session("error-test", "agent:error-test:subagent:error123", "error123", "direct", 60_000, 0, 1200, 1)
	errored.AbortedLastRun = true
	errored.Flags = []string{"aborted"}

	return []domain.GatewaySession{
		session("main", "agent:main:msteams:group:19:0cc3b64020df41f9acf7ffac5cee62a9@thread.v2",
			"0cc3b640-20df-41f9-acf7-ffac5cee62a9", "group", 30_000, 0, 48210, 24),
		session("backend-dev", "agent:backend-dev:subagent:809e5c6f-4866-4609-8e34-8318f3967a7a",
			"809e5c6f-4866-4609-8e34-8318f3967a7a", "direct", 2_000, 512, 91000, 45),
		session("architect", "agent:architect:subagent:xyz789abc", "xyz789abc", "direct", 900_000, 0, 15000, 7),
		session("frontend-dev", "agent:frontend-dev:subagent:abc123xyz", "abc123xyz", "direct", 5_000, 128, 30500, 15),
		errored,
	}, nil
}

func (m *MockClient) Health(ctx context.Context) bool { return m.fail(ctx) == nil }

func (m *MockClient) SendMessage(ctx context.Context, sessionID, message string) error {
	if err := m.fail(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, MockMessage{SessionID: sessionID, Message: message})
	return nil
}

func (m *MockClient) DisableHeartbeat(ctx context.Context, agentID string) error {
	if err := m.fail(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeat[agentID] = ""
	return nil
}

func (m *MockClient) EnableHeartbeat(ctx context.Context, agentID, interval string) error {
	if err := m.fail(ctx); err != nil {
		return err
	}
	if interval == "" {
		interval = DefaultHeartbeatInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeat[agentID] = interval
	return nil
}

// Heartbeat возвращает последний заданный интервал heartbeat агента; пустой — выключен.
func (m *MockClient) Heartbeat(agentID string) (interval string, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, known = m.heartbeat[agentID]
	return interval, known
}

func (m *MockClient) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.messages...)
}

func (m *MockClient) fail(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// SetErr переводит мок в режим отказа; nil возвращает в норму.
func (m *MockClient) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
