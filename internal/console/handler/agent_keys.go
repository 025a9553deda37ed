package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra/auth"
)

type AgentKeyService interface {
	Create(ctx context.Context, actor service.Actor, req domain.CreateAgentKeyRequest) (domain.CreatedAgentKey, error)
	List(ctx context.Context) ([]domain.AgentKeyPublic, error)
	Get(ctx context.Context, id string) (domain.AgentKeyPublic, error)
	Revoke(ctx context.Context, actor service.Actor, id string) error
	Delete(ctx context.Context, actor service.Actor, id string) error
}

// AgentKeysHandler — выпуск и отзыв API-ключей агентов (admin) и /api/agent/me для самих агентов.
type AgentKeysHandler struct {
	service AgentKeyService
	logger  *zap.Logger
}

func NewAgentKeysHandler(s AgentKeyService, logger *zap.Logger) *AgentKeysHandler {
	return &AgentKeysHandler{service: s, logger: logger.Named("agent-keys-handler")}
}

// Create обрабатывает POST /api/agent-keys.
func (h *AgentKeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAgentKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), actorFrom(r), req)
	if err != nil {
		h.logger.Error("failed to create agent key", zap.Error(err))
		internalError(w, "CREATE_KEY_ERROR", "Failed to create API key", err)
		return
	}
	writeData(w, http.StatusCreated, struct {
		domain.CreatedAgentKey
		Message string `json:"message"`
	}{created, "Save this API key now! It will not be shown again."})
}

func (h *AgentKeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list agent keys", zap.Error(err))
		internalError(w, "LIST_KEYS_ERROR", "Failed to list API keys", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

func (h *AgentKeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrAgentKeyNotFound):
		keyNotFound(w)
	case err != nil:
		internalError(w, "GET_KEY_ERROR", "Failed to get API key", err)
	default:
		writeData(w, http.StatusOK, map[string]any{"key": key})
	}
}

// Revoke обрабатывает POST /api/agent-keys/{id}/revoke.
func (h *AgentKeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.service.Revoke(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrAgentKeyNotFound):
		keyNotFound(w)
	case err != nil:
		internalError(w, "REVOKE_KEY_ERROR", "Failed to revoke API key", err)
	default:
		writeData(w, http.StatusOK, map[string]string{"message": "Agent API key revoked successfully"})
	}
}

func (h *AgentKeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, service.ErrAgentKeyNotFound):
		keyNotFound(w)
	case err != nil:
		internalError(w, "DELETE_KEY_ERROR", "Failed to delete API key", err)
	default:
		writeData(w, http.StatusOK, map[string]string{"message": "Agent API key deleted successfully"})
	}
}

// Whoami обрабатывает GET /api/agent/me: агент проверяет свой ключ.
func (h *AgentKeysHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	agent, ok := auth.AgentFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AGENT_AUTH_REQUIRED", "Agent API key required", "")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"agent": agent})
}

func keyNotFound(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, "KEY_NOT_FOUND", "Agent API key not found", "")
}
