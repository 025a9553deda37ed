package file

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
)

// AgentKeyRepo — ключи агентов в JSON-файле. Пустой path или MemoryPath — только память.
type AgentKeyRepo struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	keys map[string]domain.AgentKey
}

func NewAgentKeyRepo(fs afero.Fs, path string, logger *zap.Logger) (*AgentKeyRepo, error) {
	r := &AgentKeyRepo{
		fs:     fs,
		path:   path,
		logger: logger.With(zap.String("mod", "agent_key_file")),
		keys:   make(map[string]domain.AgentKey),
	}
	if r.inMemory() {
		return r, nil
	}

	var list []domain.AgentKey
	if _, err := readJSON(fs, path, &list); err != nil {
		return nil, err
	}
	for _, k := range list {
		r.keys[k.ID] = k
	}
	r.logger.Info("loaded agent keys from file", zap.String("path", path), zap.Int("count", len(r.keys)))
	return r, nil
}

func (r *AgentKeyRepo) inMemory() bool { return r.fs == nil || r.path == "" || r.path == MemoryPath }

func (r *AgentKeyRepo) Create(_ context.Context, k *domain.AgentKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[k.ID]; ok {
		return fmt.Errorf("agent key %q: %w", k.ID, domain.ErrConflict)
	}
	r.keys[k.ID] = *k
	if err := r.save(); err != nil {
		delete(r.keys, k.ID)
		return err
	}
	return nil
}

// GetByID возвращает nil, nil если ключа нет.
func (r *AgentKeyRepo) GetByID(_ context.Context, id string) (*domain.AgentKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.keys[id]; ok {
		return &k, nil
	}
	return nil, nil
}

// ListByPrefix — активные ключи с данным префиксом, кандидаты на сверку хэша.
func (r *AgentKeyRepo) ListByPrefix(_ context.Context, prefix string) ([]domain.AgentKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AgentKey
	for _, k := range r.sorted() {
		if k.IsActive && k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *AgentKeyRepo) List(_ context.Context) ([]domain.AgentKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

// Update перезаписывает изменяемые поля: активность и время последнего использования.
func (r *AgentKeyRepo) Update(_ context.Context, k *domain.AgentKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.keys[k.ID]
	if !ok {
		return fmt.Errorf("agent key %q: %w", k.ID, domain.ErrNotFound)
	}
	next := prev
	next.IsActive = k.IsActive
	next.LastUsedAt = k.LastUsedAt
	r.keys[k.ID] = next
	if err := r.save(); err != nil {
		r.keys[k.ID] = prev
		return err
	}
	return nil
}

func (r *AgentKeyRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[id]
	if !ok {
		return fmt.Errorf("agent key %q: %w", id, domain.ErrNotFound)
	}
	delete(r.keys, id)
	if err := r.save(); err != nil {
		r.keys[id] = k
		return err
	}
	return nil
}

func (r *AgentKeyRepo) sorted() []domain.AgentKey {
	out := make([]domain.AgentKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// save вызывается под локом записи.
func (r *AgentKeyRepo) save() error {
	if r.inMemory() {
		return nil
	}
	if err := writeJSONAtomic(r.fs, r.path, r.sorted()); err != nil {
		r.logger.Error("failed to save agent keys file", zap.Error(err))
		return fmt.Errorf("persist agent keys: %w", err)
	}
	return nil
}
