package file

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
)

// MemoryPath отключает запись на диск.
const MemoryPath = ":memory:"

// UserRepo — пользователи в JSON-файле. Пустой path или MemoryPath — только память.
type UserRepo struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	users map[string]domain.User
}

func NewUserRepo(fs afero.Fs, path string, logger *zap.Logger) (*UserRepo, error) {
	r := &UserRepo{
		fs:     fs,
		path:   path,
		logger: logger.With(zap.String("mod", "user_file")),
		users:  make(map[string]domain.User),
	}
	if r.inMemory() {
		return r, nil
	}

	var list []domain.User
	if _, err := readJSON(fs, path, &list); err != nil {
		return nil, err
	}
	for _, u := range list {
		r.users[u.ID] = u
	}
	r.logger.Info("loaded users from file", zap.String("path", path), zap.Int("count", len(r.users)))
	return r, nil
}

func (r *UserRepo) inMemory() bool { return r.fs == nil || r.path == "" || r.path == MemoryPath }

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Username = strings.ToLower(u.Username)
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return fmt.Errorf("username %q: %w", u.Username, domain.ErrConflict)
		}
		if u.Email != "" && existing.Email == u.Email {
			return fmt.Errorf("email %q: %w", u.Email, domain.ErrConflict)
		}
	}
	if _, ok := r.users[u.ID]; ok {
		return fmt.Errorf("user id %q: %w", u.ID, domain.ErrConflict)
	}

	r.users[u.ID] = *u
	if err := r.save(); err != nil {
		delete(r.users, u.ID)
		return err
	}
	return nil
}

// GetByID возвращает nil, nil если пользователя нет.
func (r *UserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *UserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == strings.ToLower(username) }), nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == strings.ToLower(email) }), nil
}

func (r *UserRepo) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

func (r *UserRepo) UpdateRole(_ context.Context, id string, role domain.Role) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}
	prev := u
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	if err := r.save(); err != nil {
		r.users[id] = prev
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}
	delete(r.users, id)
	if err := r.save(); err != nil {
		r.users[id] = u
		return err
	}
	return nil
}

func (r *UserRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *UserRepo) find(match func(u *domain.User) bool) *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(&u) {
			return &u
		}
	}
	return nil
}

func (r *UserRepo) sorted() []domain.User {
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// save вызывается под локом записи.
func (r *UserRepo) save() error {
	if r.inMemory() {
		return nil
	}
	if err := writeJSONAtomic(r.fs, r.path, r.sorted()); err != nil {
		r.logger.Error("failed to save users file", zap.Error(err))
		return fmt.Errorf("persist users: %w", err)
	}
	return nil
}
