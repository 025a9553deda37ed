package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/gateway"
)

// AgentService описывает чтение агентов и управляющие команды.
type AgentService interface {
	List(ctx context.Context) (domain.AgentList, error)
	Get(ctx context.Context, id string) (domain.Agent, error)
	Stop(ctx context.Context, actor service.Actor, id string) (domain.ControlResult, error)
	Restart(ctx context.Context, actor service.Actor, id, interval string) (domain.ControlResult, error)
	SendMessage(ctx context.Context, actor service.Actor, id, message string) (domain.ControlResult, error)
	Health(ctx context.Context) bool
}

type AgentHandler struct {
	service AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// List обрабатывает GET /api/agents. При сбое шлюза отдаём пустой список вместе с ошибкой,
// чтобы дашборд продолжал рисовать таблицу.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to fetch agents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Envelope{
			Data: domain.AgentList{Agents: []domain.Agent{}, Count: 0, Timestamp: time.Now().UTC()},
			Error: &ErrorBody{
				Code:    gateway.Code(err),
				Message: "Unable to fetch agent data from OpenClaw Gateway",
				Details: err.Error(),
			},
		})
		return
	}
	writeData(w, http.StatusOK, list)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.agentError(w, id, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"agent": a})
}

// Stop обрабатывает POST /api/agents/{id}/stop.
func (h *AgentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.Stop(r.Context(), actorFrom(r), id)
	if err != nil {
		h.agentError(w, id, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Restart обрабатывает POST /api/agents/{id}/restart. Тело необязательно.
func (h *AgentHandler) Restart(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentRestartRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	res, err := h.service.Restart(r.Context(), actorFrom(r), id, req.Interval)
	if err != nil {
		h.agentError(w, id, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Message обрабатывает POST /api/agents/{id}/message.
func (h *AgentHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	res, err := h.service.SendMessage(r.Context(), actorFrom(r), id, req.Message)
	if err != nil {
		h.agentError(w, id, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *AgentHandler) agentError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, service.ErrAgentNotFound) {
		WriteError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found or no longer active",
			"No agent found with ID: "+id)
		return
	}

	code := gateway.Code(err)
	status := http.StatusBadGateway
	switch code {
	case "GATEWAY_TIMEOUT":
		status = http.StatusGatewayTimeout
	case "GATEWAY_UNAVAILABLE":
		status = http.StatusServiceUnavailable
	}
	h.logger.Error("agent operation failed", zap.String("agent_id", id), zap.String("code", code), zap.Error(err))
	WriteError(w, status, code, "OpenClaw Gateway request failed", err.Error())
}

// decodeOptionalJSON — decodeJSON, в котором пустое тело не ошибка.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return false
	}
	if len(body) == 0 {
		return true
	}
	return decodeBytes(w, body, dst)
}
