package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
)

// UsersHandler — управление пользователями, только для admin.
type UsersHandler struct {
	service AuthService
	logger  *zap.Logger
}

func NewUsersHandler(s AuthService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{service: s, logger: logger.Named("users-handler")}
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		internalError(w, "LIST_USERS_FAILED", "Failed to list users", err)
		return
	}
	h.logger.Info("admin listed users", zap.String("admin_id", actorFrom(r).UserID), zap.Int("count", len(users)))
	writeData(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		userNotFound(w, chi.URLParam(r, "id"))
	case err != nil:
		internalError(w, "GET_USER_FAILED", "Failed to get user", err)
	default:
		writeData(w, http.StatusOK, map[string]any{"user": user})
	}
}

// UpdateRole обрабатывает PUT /api/users/{id}/role.
func (h *UsersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	user, prev, err := h.service.UpdateRole(r.Context(), actorFrom(r), id, req.Role)
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		userNotFound(w, id)
	case errors.Is(err, service.ErrSelfAction):
		WriteError(w, http.StatusBadRequest, "CANNOT_DEMOTE_SELF", "Cannot demote yourself",
			"Admins cannot remove their own admin role")
	case err != nil:
		h.logger.Error("failed to update user role", zap.Error(err))
		internalError(w, "UPDATE_ROLE_FAILED", "Failed to update user role", err)
	default:
		writeData(w, http.StatusOK, map[string]any{
			"user":    user,
			"message": fmt.Sprintf("User role updated from %s to %s", prev, req.Role),
		})
	}
}

// Delete обрабатывает DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	username, err := h.service.Delete(r.Context(), actorFrom(r), id)
	switch {
	case errors.Is(err, service.ErrSelfAction):
		WriteError(w, http.StatusBadRequest, "CANNOT_DELETE_SELF", "Cannot delete yourself",
			"Admins cannot delete their own account")
	case errors.Is(err, service.ErrUserNotFound):
		userNotFound(w, id)
	case err != nil:
		h.logger.Error("failed to delete user", zap.Error(err))
		internalError(w, "DELETE_USER_FAILED", "Failed to delete user", err)
	default:
		writeData(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User %s has been deleted", username)})
	}
}

func userNotFound(w http.ResponseWriter, id string) {
	WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", "No user found with ID: "+id)
}
