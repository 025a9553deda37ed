package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
)

// AuthService описывает, что нужно обработчикам /api/auth и /api/users.
type AuthService interface {
	Register(ctx context.Context, actor service.Actor, req domain.RegisterRequest) (domain.UserPublic, error)
	Login(ctx context.Context, actor service.Actor, req domain.LoginRequest) (domain.TokenResponse, error)
	Logout(ctx context.Context, actor service.Actor) string
	Me(ctx context.Context, userID string) (domain.UserPublic, error)
	List(ctx context.Context) ([]domain.UserPublic, error)
	Get(ctx context.Context, id string) (domain.UserPublic, error)
	UpdateRole(ctx context.Context, actor service.Actor, id string, role domain.Role) (domain.UserPublic, domain.Role, error)
	Delete(ctx context.Context, actor service.Actor, id string) (string, error)
}

type AuthHandler struct {
	service AuthService
	logger  *zap.Logger
}

func NewAuthHandler(s AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.Named("auth-handler")}
}

// Register обрабатывает POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), actorFrom(r), req)
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		WriteError(w, http.StatusConflict, "USER_EXISTS", "Username already taken", "Please choose a different username")
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrUserExists):
		WriteError(w, http.StatusConflict, "USER_EXISTS", "Email already registered",
			"Please use a different email or login with existing account")
	case errors.Is(err, service.ErrRoleNotAllowed):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions",
			"Only an administrator can register users with role "+string(req.Role))
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		internalError(w, "REGISTRATION_FAILED", "Failed to register user", err)
	default:
		writeData(w, http.StatusCreated, map[string]any{"user": user, "message": "User registered successfully"})
	}
}

// Login обрабатывает POST /api/auth/login. Не уточняем, что неверно: логин или пароль.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), actorFrom(r), req)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials",
			"Username/email or password is incorrect")
	case err != nil:
		h.logger.Error("login failed", zap.Error(err))
		internalError(w, "LOGIN_FAILED", "Failed to login", err)
	default:
		writeData(w, http.StatusOK, resp)
	}
}

// Logout обрабатывает POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	msg := h.service.Logout(r.Context(), actorFrom(r))
	writeData(w, http.StatusOK, map[string]string{"message": msg})
}

// Me обрабатывает GET /api/auth/me: свежие данные из хранилища, а не из токена.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), actorFrom(r).UserID)
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", "User may have been deleted")
	case err != nil:
		internalError(w, "FETCH_FAILED", "Failed to get user info", err)
	default:
		writeData(w, http.StatusOK, map[string]any{"user": user})
	}
}
