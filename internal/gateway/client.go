// Package gateway — граница с внешним шлюзом оркестрации агентов (OpenClaw).
// Шлюз доступен через CLI; каждый вызов ограничен своим таймаутом.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
)

// DefaultHeartbeatInterval — интервал heartbeat при рестарте агента, если его не передали.
const DefaultHeartbeatInterval = "30m"

// Client — то, что консоль ожидает от шлюза.
type Client interface {
	Sessions(ctx context.Context) ([]domain.GatewaySession, error)
	Health(ctx context.Context) bool
	SendMessage(ctx context.Context, sessionID, message string) error
	DisableHeartbeat(ctx context.Context, agentID string) error
	EnableHeartbeat(ctx context.Context, agentID, interval string) error
}

type CLIConfig struct {
	Binary         string
	StatusTimeout  time.Duration
	HealthTimeout  time.Duration
	MessageTimeout time.Duration
	ConfigTimeout  time.Duration
}

func (c CLIConfig) withDefaults() CLIConfig {
	if c.Binary == "" {
		c.Binary = "openclaw"
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = 5 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 2 * time.Second
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 60 * time.Second // Агенту нужно время на обработку
	}
	if c.ConfigTimeout <= 0 {
		c.ConfigTimeout = 5 * time.Second
	}
	return c
}

type CLIClient struct {
	runner  Runner
	cfg     CLIConfig
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewCLIClient(runner Runner, cfg CLIConfig, metrics *infra.Metrics, logger *zap.Logger) *CLIClient {
	if runner == nil {
		runner = ExecRunner{}
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &CLIClient{
		runner:  runner,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "gateway_cli")),
	}
}

// call выполняет одну команду CLI со своим таймаутом и приводит ошибки к sentinel-ам пакета.
func (c *CLIClient) call(ctx context.Context, op string, timeout time.Duration, args ...string) ([]byte, error) {
	tCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := c.runner.Run(tCtx, c.cfg.Binary, args...)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout) || errors.Is(tCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%s: %w", op, ErrTimeout)
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
		err = fmt.Errorf("%s: %w", op, ErrUnavailable)
	default:
		outcome = "error"
		err = &CommandError{Op: op, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	c.metrics.GatewayCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	// Баннер OpenClaw пишет в stderr, это не ошибка
	if s := strings.TrimSpace(string(stderr)); s != "" && !strings.Contains(s, "🦞") && err == nil {
		c.logger.Warn("gateway cli stderr", zap.String("op", op), zap.String("stderr", s))
	}
	if err != nil {
		c.logger.Error("gateway cli call failed", zap.String("op", op), zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}
	return stdout, nil
}

func (c *CLIClient) Sessions(ctx context.Context) ([]domain.GatewaySession, error) {
	out, err := c.call(ctx, "status", c.cfg.StatusTimeout, "gateway", "call", "status", "--json")
	if err != nil {
		return nil, err
	}

	var status domain.GatewayStatus
	if err := json.Unmarshal(out, &status); err != nil {
		return nil, fmt.Errorf("decode gateway status: %w", err)
	}
	if status.Sessions.Recent == nil {
		c.logger.Warn("no sessions found in gateway response")
		return []domain.GatewaySession{}, nil
	}
	c.logger.Debug("received gateway sessions",
		zap.Int("count", status.Sessions.Count),
		zap.Int("recent", len(status.Sessions.Recent)),
	)
	return status.Sessions.Recent, nil
}

// Health не возвращает ошибку: недоступный шлюз — это просто false.
func (c *CLIClient) Health(ctx context.Context) bool {
	out, err := c.call(ctx, "health", c.cfg.HealthTimeout, "gateway", "call", "health", "--json")
	if err != nil {
		return false
	}
	var h struct {
		Status  string `json:"status"`
		Healthy bool   `json:"healthy"`
	}
	if err := json.Unmarshal(out, &h); err != nil {
		return false
	}
	return h.Status == "ok" || h.Healthy
}

func (c *CLIClient) SendMessage(ctx context.Context, sessionID, message string) error {
	c.logger.Info("sending message to agent session", zap.String("session_id", sessionID), zap.Int("message_length", len(message)))
	_, err := c.call(ctx, "send_message", c.cfg.MessageTimeout,
		"agent", "--session-id", sessionID, "--message", message, "--json")
	return err
}

// DisableHeartbeat выключает автоматические check-in агента. Активные сессии не трогает.
func (c *CLIClient) DisableHeartbeat(ctx context.Context, agentID string) error {
	c.logger.Info("disabling heartbeat for agent", zap.String("agent_id", agentID))
	_, err := c.call(ctx, "disable_heartbeat", c.cfg.ConfigTimeout,
		"config", "set", heartbeatKey(agentID, "enabled"), "false", "--json")
	return err
}

func (c *CLIClient) EnableHeartbeat(ctx context.Context, agentID, interval string) error {
	if interval == "" {
		interval = DefaultHeartbeatInterval
	}
	c.logger.Info("enabling heartbeat for agent", zap.String("agent_id", agentID), zap.String("interval", interval))

	if _, err := c.call(ctx, "enable_heartbeat", c.cfg.ConfigTimeout,
		"config", "set", heartbeatKey(agentID, "enabled"), "true", "--json"); err != nil {
		return err
	}
	_, err := c.call(ctx, "set_heartbeat_interval", c.cfg.ConfigTimeout,
		"config", "set", heartbeatKey(agentID, "every"), interval, "--json")
	return err
}

func heartbeatKey(agentID, field string) string {
	return "heartbeat.agents." + agentID + "." + field
}
