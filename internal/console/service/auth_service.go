package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/domain"
)

// UserRepository — хранилище пользователей (JSON-файл или Postgres).
// Get-методы возвращают nil, nil если пользователя нет.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type TokenIssuer interface {
	IssueToken(userID, username string, role domain.Role) (string, time.Time, error)
	TTL() time.Duration
}

type AuthService struct {
	repo       UserRepository
	issuer     TokenIssuer
	rec        *audit.Recorder
	bcryptCost int
	logger     *zap.Logger

	// Хэш для сравнения, когда пользователя нет: время ответа не выдаёт существование логина
	dummyHash []byte
}

func NewAuthService(repo UserRepository, issuer TokenIssuer, rec *audit.Recorder, bcryptCost int, logger *zap.Logger) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("mission-control"), bcryptCost)
	return &AuthService{
		repo:       repo,
		issuer:     issuer,
		rec:        rec,
		bcryptCost: bcryptCost,
		logger:     logger.Named("auth-service"),
		dummyHash:  dummy,
	}
}

// Register — саморегистрация. Роль выше viewer может выдать только администратор.
func (s *AuthService) Register(ctx context.Context, actor Actor, req domain.RegisterRequest) (domain.UserPublic, error) {
	if req.Role == "" {
		req.Role = domain.RoleViewer
	}
	if req.Role != domain.RoleViewer && actor.Role != domain.RoleAdmin {
		return domain.UserPublic{}, fmt.Errorf("register as %s: %w", req.Role, ErrRoleNotAllowed)
	}
	return s.Create(ctx, actor, req)
}

// Create заводит пользователя без проверки прав вызывающего (CLI, bootstrap).
func (s *AuthService) Create(ctx context.Context, actor Actor, req domain.RegisterRequest) (domain.UserPublic, error) {
	if req.Role == "" {
		req.Role = domain.RoleViewer
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if u, err := s.repo.GetByUsername(ctx, username); err != nil {
		return domain.UserPublic{}, fmt.Errorf("lookup username: %w", err)
	} else if u != nil {
		return domain.UserPublic{}, ErrUsernameTaken
	}
	if email != "" {
		if u, err := s.repo.GetByEmail(ctx, email); err != nil {
			return domain.UserPublic{}, fmt.Errorf("lookup email: %w", err)
		} else if u != nil {
			return domain.UserPublic{}, ErrEmailTaken
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return domain.UserPublic{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		// Гонка двух регистраций с одним логином
		if errors.Is(err, domain.ErrConflict) {
			return domain.UserPublic{}, fmt.Errorf("%w: %v", ErrUserExists, err)
		}
		return domain.UserPublic{}, fmt.Errorf("create user: %w", err)
	}

	if actor.UserID == "" && actor.Username == "" {
		actor = actor.As(u)
	}
	s.rec.Record(ctx, actor.input(audit.ActionUserCreated, userResource(u.ID), audit.ResultSuccess,
		fmt.Sprintf("Registered user %s with role %s", u.Username, u.Role)))
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username),
		zap.String("role", string(u.Role)))

	return u.Public(), nil
}

// Login проверяет пароль и выпускает токен. Неудачная попытка тоже попадает в журнал.
func (s *AuthService) Login(ctx context.Context, actor Actor, req domain.LoginRequest) (domain.TokenResponse, error) {
	identifier := strings.ToLower(strings.TrimSpace(req.Username))
	lookup := s.repo.GetByUsername
	if identifier == "" {
		identifier = strings.ToLower(strings.TrimSpace(req.Email))
		lookup = s.repo.GetByEmail
	}
	if identifier == "" {
		return domain.TokenResponse{}, ErrInvalidCredentials
	}

	u, err := lookup(ctx, identifier)
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("lookup user: %w", err)
	}

	hash := s.dummyHash
	if u != nil {
		hash = []byte(u.PasswordHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil || u == nil {
		failed := actor
		if u != nil {
			failed = actor.As(u)
		}
		s.rec.Record(ctx, failed.input(audit.ActionLoginFailed, "auth", audit.ResultFailure,
			fmt.Sprintf("Failed login attempt for %s", identifier)))
		s.logger.Warn("failed login attempt", zap.String("identifier", identifier), zap.String("ip", actor.IP))
		return domain.TokenResponse{}, ErrInvalidCredentials
	}

	token, _, err := s.issuer.IssueToken(u.ID, u.Username, u.Role)
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("issue token: %w", err)
	}

	s.rec.Record(ctx, actor.As(u).input(audit.ActionLogin, "auth", audit.ResultSuccess,
		fmt.Sprintf("User %s logged in", u.Username)))
	s.logger.Info("user logged in", zap.String("user_id", u.ID), zap.String("username", u.Username))

	return domain.TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: formatTTL(s.issuer.TTL()),
		User:      u.Public(),
	}, nil
}

// Logout только фиксирует событие: токены без состояния, клиент просто забывает свой.
func (s *AuthService) Logout(ctx context.Context, actor Actor) string {
	s.rec.Record(ctx, actor.input(audit.ActionLogout, "auth", audit.ResultSuccess,
		fmt.Sprintf("User %s logged out", actor.Username)))
	s.logger.Info("user logged out", zap.String("user_id", actor.UserID), zap.String("username", actor.Username))
	return fmt.Sprintf("User %s logged out successfully", actor.Username)
}

func (s *AuthService) Me(ctx context.Context, userID string) (domain.UserPublic, error) {
	return s.Get(ctx, userID)
}

func (s *AuthService) List(ctx context.Context) ([]domain.UserPublic, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]domain.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out, nil
}

func (s *AuthService) Get(ctx context.Context, id string) (domain.UserPublic, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.UserPublic{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return domain.UserPublic{}, ErrUserNotFound
	}
	return u.Public(), nil
}

// UpdateRole меняет роль. Администратор не может понизить сам себя.
// Возвращает обновлённого пользователя и прежнюю роль.
func (s *AuthService) UpdateRole(ctx context.Context, actor Actor, id string, role domain.Role) (domain.UserPublic, domain.Role, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.UserPublic{}, "", fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return domain.UserPublic{}, "", ErrUserNotFound
	}
	if id == actor.UserID && role != domain.RoleAdmin {
		s.rec.Record(ctx, actor.input(audit.ActionRoleChanged, userResource(id), audit.ResultDenied,
			fmt.Sprintf("Refused to demote own account to %s", role)))
		return domain.UserPublic{}, "", fmt.Errorf("demote self: %w", ErrSelfAction)
	}

	prev := u.Role
	updated, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UserPublic{}, "", ErrUserNotFound
		}
		return domain.UserPublic{}, "", fmt.Errorf("update role: %w", err)
	}

	s.rec.Record(ctx, actor.input(audit.ActionRoleChanged, userResource(id), audit.ResultSuccess,
		fmt.Sprintf("Changed role from %s to %s for user %s", prev, role, u.Username)))
	s.logger.Info("user role updated", zap.String("admin_id", actor.UserID), zap.String("target_user_id", id),
		zap.String("old_role", string(prev)), zap.String("new_role", string(role)))

	return updated.Public(), prev, nil
}

// Delete удаляет пользователя и возвращает его имя. Удалить себя нельзя.
func (s *AuthService) Delete(ctx context.Context, actor Actor, id string) (string, error) {
	if id == actor.UserID {
		s.rec.Record(ctx, actor.input(audit.ActionUserDeleted, userResource(id), audit.ResultDenied,
			"Refused to delete own account"))
		return "", fmt.Errorf("delete self: %w", ErrSelfAction)
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("delete user: %w", err)
	}

	s.rec.Record(ctx, actor.input(audit.ActionUserDeleted, userResource(id), audit.ResultSuccess,
		fmt.Sprintf("Deleted user %s", u.Username)))
	s.logger.Info("user deleted", zap.String("admin_id", actor.UserID), zap.String("deleted_user_id", id),
		zap.String("deleted_username", u.Username))

	return u.Username, nil
}

// EnsureAdmin создаёт администратора, если пользователей ещё нет. true — создан.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	n, err := s.repo.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.Create(ctx, SystemActor, domain.RegisterRequest{
		Username: username, Email: email, Password: password, Role: domain.RoleAdmin,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// formatTTL: 24h, 30m, 45s.
func formatTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
