package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/cache"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/gateway"
)

const (
	agentsCacheKey = "agents"
	// Сколько символов сообщения уходит подписчикам в session:activity
	activityPreview = 100
)

// AgentNotifier получает изменения агентов для рассылки подписчикам потока.
type AgentNotifier interface {
	BroadcastAgentStatus(agentID string, status domain.AgentStatus)
	BroadcastSessionActivity(agentID, sessionID, lastMessage string)
}

type AgentService struct {
	gw       gateway.Client
	cache    cache.Cache
	ttl      time.Duration
	rec      *audit.Recorder
	notifier AgentNotifier
	logger   *zap.Logger
	now      func() time.Time

	// Одновременные промахи кэша превращаются в один вызов CLI
	group singleflight.Group

	mu         sync.Mutex
	lastStatus map[string]domain.AgentStatus
}

func NewAgentService(gw gateway.Client, c cache.Cache, ttl time.Duration, rec *audit.Recorder, notifier AgentNotifier, logger *zap.Logger) *AgentService {
	if c == nil {
		c = cache.NewMemory()
	}
	return &AgentService{
		gw:         gw,
		cache:      c,
		ttl:        ttl,
		rec:        rec,
		notifier:   notifier,
		logger:     logger.Named("agent-service"),
		now:        time.Now,
		lastStatus: make(map[string]domain.AgentStatus),
	}
}

// List возвращает агентов из кэша или свежих от шлюза.
func (s *AgentService) List(ctx context.Context) (domain.AgentList, error) {
	var list domain.AgentList
	found, err := s.cache.Get(ctx, agentsCacheKey, &list)
	if err != nil {
		// Кэш — оптимизация, при его отказе идём в шлюз
		s.logger.Warn("agent cache read failed", zap.Error(err))
	}
	if found {
		s.logger.Debug("returning cached agents", zap.Int("count", list.Count))
		return list, nil
	}

	v, err, _ := s.group.Do(agentsCacheKey, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return domain.AgentList{}, err
	}
	return v.(domain.AgentList), nil
}

func (s *AgentService) fetch(ctx context.Context) (domain.AgentList, error) {
	sessions, err := s.gw.Sessions(ctx)
	if err != nil {
		s.logger.Error("failed to fetch agents", zap.Error(err))
		return domain.AgentList{}, fmt.Errorf("fetch sessions: %w", err)
	}

	now := s.now().UTC()
	agents := gateway.TransformAll(sessions, now)
	list := domain.AgentList{Agents: agents, Count: len(agents), Timestamp: now}

	if err := s.cache.Set(ctx, agentsCacheKey, list, s.ttl); err != nil {
		s.logger.Warn("agent cache write failed", zap.Error(err))
	}
	s.announceChanges(agents)
	return list, nil
}

// announceChanges рассылает agent:status для агентов, чей статус сменился с прошлого опроса.
// Первый опрос только запоминает состояние.
func (s *AgentService) announceChanges(agents []domain.Agent) {
	s.mu.Lock()
	first := len(s.lastStatus) == 0
	changed := make([]domain.Agent, 0)
	seen := make(map[string]domain.AgentStatus, len(agents))
	for _, a := range agents {
		seen[a.ID] = a.Status
		if prev, ok := s.lastStatus[a.ID]; !first && (!ok || prev != a.Status) {
			changed = append(changed, a)
		}
	}
	s.lastStatus = seen
	s.mu.Unlock()

	if s.notifier == nil {
		return
	}
	for _, a := range changed {
		s.notifier.BroadcastAgentStatus(a.ID, a.Status)
	}
}

// Get ищет агента по id, id сессии или фрагменту имени.
func (s *AgentService) Get(ctx context.Context, id string) (domain.Agent, error) {
	list, err := s.List(ctx)
	if err != nil {
		return domain.Agent{}, err
	}
	a, ok := gateway.FindAgent(list.Agents, id)
	if !ok {
		return domain.Agent{}, fmt.Errorf("%q: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// Stop выключает heartbeat агента: он перестаёт просыпаться сам.
func (s *AgentService) Stop(ctx context.Context, actor Actor, id string) (domain.ControlResult, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return domain.ControlResult{}, err
	}
	agentID := a.Metadata.AgentID

	err = s.gw.DisableHeartbeat(ctx, agentID)
	s.recordControl(ctx, actor, audit.ActionAgentStop, a, err, fmt.Sprintf("Heartbeat disabled for agent %s", agentID))
	if err != nil {
		return domain.ControlResult{}, fmt.Errorf("stop agent %s: %w", agentID, err)
	}

	s.invalidate(ctx)
	if s.notifier != nil {
		s.notifier.BroadcastAgentStatus(a.ID, domain.StatusOffline)
	}
	return domain.ControlResult{AgentID: a.ID, Message: fmt.Sprintf("Heartbeat disabled for agent %s", agentID)}, nil
}

// Restart включает heartbeat с интервалом (по умолчанию 30m).
func (s *AgentService) Restart(ctx context.Context, actor Actor, id, interval string) (domain.ControlResult, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return domain.ControlResult{}, err
	}
	agentID := a.Metadata.AgentID
	if interval == "" {
		interval = gateway.DefaultHeartbeatInterval
	}

	msg := fmt.Sprintf("Heartbeat enabled for agent %s (every %s)", agentID, interval)
	err = s.gw.EnableHeartbeat(ctx, agentID, interval)
	s.recordControl(ctx, actor, audit.ActionAgentRestart, a, err, msg)
	if err != nil {
		return domain.ControlResult{}, fmt.Errorf("restart agent %s: %w", agentID, err)
	}

	s.invalidate(ctx)
	if s.notifier != nil {
		s.notifier.BroadcastAgentStatus(a.ID, domain.StatusOnline)
	}
	return domain.ControlResult{AgentID: a.ID, Message: msg}, nil
}

// SendMessage отправляет сообщение в сессию агента. В журнал попадает только длина текста.
func (s *AgentService) SendMessage(ctx context.Context, actor Actor, id, message string) (domain.ControlResult, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return domain.ControlResult{}, err
	}

	err = s.gw.SendMessage(ctx, a.SessionID, message)
	s.recordControl(ctx, actor, audit.ActionAgentMessage, a, err,
		fmt.Sprintf("Message sent to session %s (%d chars)", a.SessionID, utf8.RuneCountInString(message)))
	if err != nil {
		return domain.ControlResult{}, fmt.Errorf("message agent %s: %w", a.Metadata.AgentID, err)
	}

	s.invalidate(ctx)
	if s.notifier != nil {
		s.notifier.BroadcastSessionActivity(a.ID, a.SessionID, preview(message))
	}
	return domain.ControlResult{AgentID: a.ID, Message: "Message sent to agent session"}, nil
}

// Health — доступен ли шлюз.
func (s *AgentService) Health(ctx context.Context) bool {
	return s.gw.Health(ctx)
}

func (s *AgentService) recordControl(ctx context.Context, actor Actor, action audit.Action, a domain.Agent, err error, details string) {
	result := audit.ResultSuccess
	if err != nil {
		result = audit.ResultFailure
		details = fmt.Sprintf("%s failed: %s", details, gateway.Code(err))
	}
	s.rec.Record(ctx, actor.input(action, agentResource(a.ID), result, details))

	fields := []zap.Field{zap.String("agent_id", a.Metadata.AgentID), zap.String("action", string(action)),
		zap.String("user_id", actor.UserID)}
	if err != nil {
		s.logger.Error("agent control failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("agent control applied", fields...)
}

func (s *AgentService) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, agentsCacheKey); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("agent cache invalidation failed", zap.Error(err))
	}
}

func preview(msg string) string {
	if utf8.RuneCountInString(msg) <= activityPreview {
		return msg
	}
	r := []rune(msg)
	return string(r[:activityPreview]) + "…"
}
