package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
)

// Длина префикса ключа, который хранится открыто: "mc_" + 8 hex
const agentKeyPrefixLen = len(domain.AgentKeyPrefix) + 8

// AgentKeyRepository — хранилище ключей агентов (JSON-файл или Postgres).
// GetByID возвращает nil, nil если ключа нет.
type AgentKeyRepository interface {
	Create(ctx context.Context, k *domain.AgentKey) error
	GetByID(ctx context.Context, id string) (*domain.AgentKey, error)
	ListByPrefix(ctx context.Context, prefix string) ([]domain.AgentKey, error)
	List(ctx context.Context) ([]domain.AgentKey, error)
	Update(ctx context.Context, k *domain.AgentKey) error
	Delete(ctx context.Context, id string) error
}

type AgentKeyService struct {
	repo       AgentKeyRepository
	rec        *audit.Recorder
	bcryptCost int
	now        func() time.Time
	logger     *zap.Logger
}

func NewAgentKeyService(repo AgentKeyRepository, rec *audit.Recorder, bcryptCost int, logger *zap.Logger) *AgentKeyService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AgentKeyService{
		repo:       repo,
		rec:        rec,
		bcryptCost: bcryptCost,
		now:        time.Now,
		logger:     logger.Named("agent-key-service"),
	}
}

// Create выпускает новый ключ. Открытый ключ возвращается только здесь.
func (s *AgentKeyService) Create(ctx context.Context, actor Actor, req domain.CreateAgentKeyRequest) (domain.CreatedAgentKey, error) {
	plain, err := generateAgentKey()
	if err != nil {
		return domain.CreatedAgentKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.bcryptCost)
	if err != nil {
		return domain.CreatedAgentKey{}, fmt.Errorf("hash agent key: %w", err)
	}
	id, err := randomHex(8)
	if err != nil {
		return domain.CreatedAgentKey{}, err
	}

	now := s.now().UTC()
	k := &domain.AgentKey{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		KeyHash:     string(hash),
		Prefix:      plain[:agentKeyPrefixLen],
		CreatedAt:   now,
		IsActive:    true,
		Permissions: req.Permissions,
		Metadata:    req.Metadata,
	}
	if req.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, req.ExpiresInDays)
		k.ExpiresAt = &exp
	}
	if err := s.repo.Create(ctx, k); err != nil {
		return domain.CreatedAgentKey{}, fmt.Errorf("create agent key: %w", err)
	}

	details := fmt.Sprintf("Created agent key %s (%s)", k.Name, k.Prefix)
	if k.ExpiresAt != nil {
		details += ", expires " + k.ExpiresAt.Format(time.DateOnly)
	}
	s.rec.Record(ctx, actor.input(audit.ActionKeyCreated, agentKeyResource(k.ID), audit.ResultSuccess, details))
	s.logger.Info("agent key created", zap.String("key_id", k.ID), zap.String("name", k.Name),
		zap.String("created_by", actor.Username))

	return domain.CreatedAgentKey{AgentKeyPublic: k.Public(), APIKey: plain}, nil
}

func (s *AgentKeyService) List(ctx context.Context) ([]domain.AgentKeyPublic, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agent keys: %w", err)
	}
	out := make([]domain.AgentKeyPublic, 0, len(keys))
	for i := range keys {
		out = append(out, keys[i].Public())
	}
	return out, nil
}

func (s *AgentKeyService) Get(ctx context.Context, id string) (domain.AgentKeyPublic, error) {
	k, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.AgentKeyPublic{}, fmt.Errorf("get agent key: %w", err)
	}
	if k == nil {
		return domain.AgentKeyPublic{}, ErrAgentKeyNotFound
	}
	return k.Public(), nil
}

// Revoke выключает ключ, не удаляя его. Повторный отзыв не ошибка.
func (s *AgentKeyService) Revoke(ctx context.Context, actor Actor, id string) error {
	k, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get agent key: %w", err)
	}
	if k == nil {
		return ErrAgentKeyNotFound
	}
	k.IsActive = false
	if err := s.repo.Update(ctx, k); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrAgentKeyNotFound
		}
		return fmt.Errorf("revoke agent key: %w", err)
	}

	s.rec.Record(ctx, actor.input(audit.ActionKeyRevoked, agentKeyResource(id), audit.ResultSuccess,
		fmt.Sprintf("Revoked agent key %s", k.Name)))
	s.logger.Info("agent key revoked", zap.String("key_id", id), zap.String("revoked_by", actor.Username))
	return nil
}

func (s *AgentKeyService) Delete(ctx context.Context, actor Actor, id string) error {
	k, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get agent key: %w", err)
	}
	if k == nil {
		return ErrAgentKeyNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrAgentKeyNotFound
		}
		return fmt.Errorf("delete agent key: %w", err)
	}

	s.rec.Record(ctx, actor.input(audit.ActionKeyDeleted, agentKeyResource(id), audit.ResultSuccess,
		fmt.Sprintf("Deleted agent key %s", k.Name)))
	s.logger.Info("agent key deleted", zap.String("key_id", id), zap.String("deleted_by", actor.Username))
	return nil
}

// Authenticate находит активный неистёкший ключ и отмечает время использования.
func (s *AgentKeyService) Authenticate(ctx context.Context, apiKey string) (domain.AgentKeyPublic, error) {
	if !strings.HasPrefix(apiKey, domain.AgentKeyPrefix) || len(apiKey) < agentKeyPrefixLen {
		return domain.AgentKeyPublic{}, fmt.Errorf("%w: invalid API key format", ErrInvalidAgentKey)
	}
	candidates, err := s.repo.ListByPrefix(ctx, apiKey[:agentKeyPrefixLen])
	if err != nil {
		return domain.AgentKeyPublic{}, fmt.Errorf("lookup agent key: %w", err)
	}

	now := s.now().UTC()
	for i := range candidates {
		k := &candidates[i]
		if !k.IsActive || k.Expired(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(apiKey)) != nil {
			continue
		}
		k.LastUsedAt = &now
		if err := s.repo.Update(ctx, k); err != nil {
			// Ключ валиден, потеря отметки времени не повод отказывать агенту
			s.logger.Warn("failed to touch agent key", zap.String("key_id", k.ID), zap.Error(err))
		}
		return k.Public(), nil
	}
	return domain.AgentKeyPublic{}, fmt.Errorf("%w: invalid or expired API key", ErrInvalidAgentKey)
}

// generateAgentKey: "mc_" + 32 hex символа.
func generateAgentKey() (string, error) {
	h, err := randomHex(16)
	if err != nil {
		return "", err
	}
	return domain.AgentKeyPrefix + h, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func agentKeyResource(id string) string { return "agent_key:" + id }
